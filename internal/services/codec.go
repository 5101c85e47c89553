package services

// TextCodec transforms message text at the persistence boundary. The only
// implementation is the identity passthrough; end-to-end encryption would
// plug in here.
type TextCodec interface {
	Encode(plain string) (string, error)
	Decode(stored string) (string, error)
}

// IdentityCodec stores text as-is.
type IdentityCodec struct{}

func (IdentityCodec) Encode(s string) (string, error) { return s, nil }
func (IdentityCodec) Decode(s string) (string, error) { return s, nil }
