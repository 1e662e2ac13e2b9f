package reconcile

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// Fingerprint hashes content under a domain prefix: SHA256(domain + 0x00 + json(content)).
// Content should be a struct with a fixed field order so the encoding is canonical.
func Fingerprint(domain string, content any) (string, error) {
	encoded, err := json.Marshal(content)
	if err != nil {
		return "", fmt.Errorf("fingerprint %s: %w", domain, err)
	}
	return hashWithDomain(domain, encoded), nil
}

// Checksum combines fingerprints independently of their order.
func Checksum(fingerprints []string) string {
	sorted := append([]string(nil), fingerprints...)
	sort.Strings(sorted)
	h := sha256.New()
	for _, value := range sorted {
		h.Write([]byte(value))
		h.Write([]byte{0x00})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}
