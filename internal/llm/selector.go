package llm

import (
	"errors"
	"log"
)

// Options carries everything needed to build either backend variant.
type Options struct {
	UseLocal bool
	Local    LocalConfig
	Remote   RemoteConfig

	// OnFallback, when set, observes a local initialization failure that
	// was recovered by switching to the remote backend.
	OnFallback func(err error)
}

// SelectBackend builds the configured backend. A local initialization failure
// is logged and recovered with the remote backend; a remote failure is returned.
func SelectBackend(opts Options) (Backend, error) {
	if opts.UseLocal {
		local, err := NewLocalBackend(opts.Local)
		if err == nil {
			log.Printf("llm backend: local (device=%s path=%s)", local.device, local.modelPath)
			return local, nil
		}
		log.Printf("local model unavailable: %v; falling back to remote", err)
		if opts.OnFallback != nil {
			opts.OnFallback(err)
		}
	}

	remote, err := NewRemoteBackend(opts.Remote)
	if err != nil {
		return nil, err
	}
	log.Printf("llm backend: remote (model=%s)", remote.model)
	return remote, nil
}

// IsConfigurationError reports whether err came from backend initialization.
func IsConfigurationError(err error) bool {
	var cfgErr *ConfigurationError
	return errors.As(err, &cfgErr)
}
