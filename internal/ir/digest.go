package ir

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// DomainResourceState prefixes resource state digests.
// Version suffix enables future algorithm migration.
const DomainResourceState = "resgraph/resource-state/v1"

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// StateDigest computes a content digest of the complete state of a resource
// (basic state, fields and key/value set). Field and key/value order matter,
// matching the order the remote store reports them in.
func StateDigest(rd ExtendedResourceData) (string, error) {
	snap := rd.Snapshot()
	snap["data"] = base64.StdEncoding.EncodeToString(rd.Data)

	fields := make([]any, len(rd.Fields))
	for i, f := range rd.Fields {
		fields[i] = map[string]any{
			"name":  f.Name,
			"type":  string(f.Type),
			"value": f.Value,
			"error": f.Error,
		}
	}
	snap["fields"] = fields

	kv := make([]any, len(rd.KV))
	for i, e := range rd.KV {
		kv[i] = map[string]any{
			"key":   e.Key,
			"value": base64.StdEncoding.EncodeToString(e.Value),
		}
	}
	snap["kv"] = kv

	canonical, err := MarshalCanonical(snap)
	if err != nil {
		return "", fmt.Errorf("StateDigest: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainResourceState, canonical), nil
}

// MustStateDigest is like StateDigest but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustStateDigest(rd ExtendedResourceData) string {
	d, err := StateDigest(rd)
	if err != nil {
		panic(err)
	}
	return d
}
