package keychain

// PasswordCache adapts an AuditedStore into the scheduler's credential
// gate shape: a boolean-miss Get and a fire-and-forget Put, keyed by
// service name rather than an arbitrary secret key. A hit lets the
// scheduler skip the interactive terminal prompt for that service's
// stdin; a miss falls through to the terminal passthrough unchanged.
type PasswordCache struct {
	store *AuditedStore
}

// NewPasswordCache wraps store for use as a scheduler.PasswordGate.
func NewPasswordCache(store *AuditedStore) *PasswordCache {
	return &PasswordCache{store: store}
}

// Get returns the cached credential for service, if any.
func (p *PasswordCache) Get(service string) (string, bool) {
	val, err := p.store.GetForService(service, service)
	if err != nil {
		return "", false
	}
	return val, true
}

// Put caches secret for service, for use on the next start. Failures
// are logged, not returned: a caching miss degrades to a prompt next
// time rather than failing the caller.
func (p *PasswordCache) Put(service, secret string) {
	if err := p.store.Set(service, secret); err != nil {
		log.Warn("caching credential failed", "service", service, "err", err)
	}
}
