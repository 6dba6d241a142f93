package transport

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"time"

	"lukechampine.com/blake3"

	"github.com/dignifiedquire/iroh-drop/internal/protocol"
)

const certValidityDur = 365 * 24 * time.Hour

// GenerateIdentity creates the self-signed certificate that carries this
// node's identity. The node id is not the certificate itself but the blake3
// digest of its public key, so regenerating a certificate with the same key
// keeps the identity stable.
func GenerateIdentity() (tls.Certificate, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, err
	}

	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return tls.Certificate{}, err
	}

	template := x509.Certificate{
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		KeyUsage:     x509.KeyUsageDigitalSignature,
		NotAfter:     time.Now().Add(certValidityDur),
		NotBefore:    time.Now(),
		SerialNumber: serialNumber,
		Subject:      pkix.Name{Organization: []string{"iroh-drop"}},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, err
	}

	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return tls.Certificate{}, err
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Bytes: certDER, Type: "CERTIFICATE"})
	keyPEM := pem.EncodeToMemory(&pem.Block{Bytes: keyDER, Type: "EC PRIVATE KEY"})

	return tls.X509KeyPair(certPEM, keyPEM)
}

// CertNodeID derives a node identity from a certificate's public key.
func CertNodeID(cert *x509.Certificate) protocol.NodeID {
	return protocol.NodeID(blake3.Sum256(cert.RawSubjectPublicKeyInfo))
}

func localNodeID(cert tls.Certificate) (protocol.NodeID, error) {
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return protocol.NodeID{}, fmt.Errorf("parsing own certificate: %w", err)
	}
	return CertNodeID(leaf), nil
}
