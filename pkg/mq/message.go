package mq

import (
	"errors"
	"fmt"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"procodus.dev/bmi-tracker/pkg/bmi"
)

// MeasurementContentType is stamped on published measurement messages.
const MeasurementContentType = "application/x-protobuf; proto=google.protobuf.Struct"

// ErrMalformedMessage wraps every decoding failure. Malformed messages are
// never worth redelivering.
var ErrMalformedMessage = errors.New("malformed measurement message")

// MeasurementMessage is a measurement submitted through the queue.
type MeasurementMessage struct {
	ProducerID string
	ProducedAt time.Time
	Input      bmi.Input
}

const (
	fieldProducerID    = "producerId"
	fieldProducedAt    = "producedAt"
	fieldWeightKg      = "weightKg"
	fieldHeightCm      = "heightCm"
	fieldAge           = "age"
	fieldSex           = "sex"
	fieldActivityLevel = "activityLevel"
)

// EncodeMeasurement serializes msg as a protobuf Struct.
func EncodeMeasurement(msg MeasurementMessage) ([]byte, error) {
	s, err := structpb.NewStruct(map[string]any{
		fieldProducerID:    msg.ProducerID,
		fieldProducedAt:    msg.ProducedAt.UTC().Format(time.RFC3339Nano),
		fieldWeightKg:      msg.Input.WeightKg,
		fieldHeightCm:      msg.Input.HeightCm,
		fieldAge:           msg.Input.Age,
		fieldSex:           string(msg.Input.Sex),
		fieldActivityLevel: string(msg.Input.ActivityLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build measurement struct: %w", err)
	}

	data, err := proto.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal measurement: %w", err)
	}
	return data, nil
}

// DecodeMeasurement parses a message produced by EncodeMeasurement. It
// checks field types, not domain validity; see bmi.Input.Validate.
func DecodeMeasurement(data []byte) (MeasurementMessage, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(data, &s); err != nil {
		return MeasurementMessage{}, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}
	fields := s.GetFields()

	var (
		msg  MeasurementMessage
		errs []error
	)

	str := func(key string) string {
		v, ok := fields[key].GetKind().(*structpb.Value_StringValue)
		if !ok {
			errs = append(errs, fmt.Errorf("%s must be a string", key))
			return ""
		}
		return v.StringValue
	}
	num := func(key string) float64 {
		v, ok := fields[key].GetKind().(*structpb.Value_NumberValue)
		if !ok {
			errs = append(errs, fmt.Errorf("%s must be a number", key))
			return 0
		}
		return v.NumberValue
	}

	msg.ProducerID = str(fieldProducerID)
	producedAt := str(fieldProducedAt)
	msg.Input.WeightKg = num(fieldWeightKg)
	msg.Input.HeightCm = num(fieldHeightCm)
	age := num(fieldAge)
	msg.Input.Sex = bmi.Sex(str(fieldSex))
	msg.Input.ActivityLevel = bmi.ActivityLevel(str(fieldActivityLevel))

	if age != float64(int(age)) {
		errs = append(errs, fmt.Errorf("%s must be a whole number", fieldAge))
	}
	msg.Input.Age = int(age)

	if producedAt != "" {
		ts, err := time.Parse(time.RFC3339Nano, producedAt)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", fieldProducedAt, err))
		}
		msg.ProducedAt = ts
	}

	if len(errs) > 0 {
		return MeasurementMessage{}, fmt.Errorf("%w: %w", ErrMalformedMessage, errors.Join(errs...))
	}
	return msg, nil
}
