package options

import (
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*HttpOptions)(nil)

// HttpOptions configures the status server that exposes health probes,
// prometheus metrics and the active command listing.
type HttpOptions struct {
	// Enabled starts the status server. The sim leaves it off for one-shot runs.
	Enabled bool `json:"enabled" mapstructure:"enabled"`

	// Addr is the listen address.
	Addr string `json:"addr" mapstructure:"addr"`

	// ShutdownTimeout bounds graceful shutdown once the context is cancelled.
	ShutdownTimeout time.Duration `json:"shutdown-timeout" mapstructure:"shutdown-timeout"`
}

// NewHttpOptions creates a HttpOptions object with default parameters.
func NewHttpOptions() *HttpOptions {
	return &HttpOptions{
		Enabled:         false,
		Addr:            "0.0.0.0:8080",
		ShutdownTimeout: 5 * time.Second,
	}
}

// Validate is used to parse and validate the parameters entered by the user at
// the command line when the program starts.
func (o *HttpOptions) Validate() []error {
	if o == nil || !o.Enabled {
		return nil
	}

	errors := []error{}

	if err := ValidateAddress(o.Addr); err != nil {
		errors = append(errors, err)
	}

	return errors
}

// AddFlags adds flags related to the status server to the specified FlagSet.
func (o *HttpOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.BoolVar(&o.Enabled, prefixed("http.enabled", prefixes), o.Enabled, "Serve health probes, metrics and the command listing.")
	fs.StringVar(&o.Addr, prefixed("http.addr", prefixes), o.Addr, "Specify the HTTP server bind address and port.")
	fs.DurationVar(&o.ShutdownTimeout, prefixed("http.shutdown-timeout", prefixes), o.ShutdownTimeout, "Grace period for in-flight requests on shutdown.")
}
