package exporter

import (
	"strconv"
	"time"

	"github.com/a-h/templ"
)

//go:generate templ generate -f index.templ

// indexPage is the landing page linking the exporter endpoints.
func indexPage(interval time.Duration) templ.Component {
	return index(exporterName, strconv.FormatFloat(interval.Seconds(), 'f', -1, 64))
}
