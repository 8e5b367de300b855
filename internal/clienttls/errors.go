package clienttls

import "errors"

var (
	ErrEmptyComponents = errors.New("client TLS 'components' list may not be empty")
	ErrEmptyHosts      = errors.New("client TLS 'hosts' list may not be empty")
	ErrInvalidHost     = errors.New("invalid TLS 'host'")
	ErrHostPort        = errors.New("ports not currently supported")
	ErrCertWithoutKey  = errors.New("client certificate specified without private key")
	ErrKeyWithoutCert  = errors.New("client private key specified without certificate")
	ErrNoCertificates  = errors.New("no certificates found")
	ErrNoPrivateKey    = errors.New("no private key found")
	ErrKeyPairMismatch = errors.New("client certificate and private key do not match")
)
