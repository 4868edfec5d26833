// Package approval implements the tamper-evident approval contract: content
// fingerprints, the versioned marker comment, and the verdict engine.
package approval

import (
	"crypto/sha256"
	"encoding/base64"
)

// Fingerprint pins one attachment to a marker. The hash covers file content
// only; filename and size are descriptive metadata pinned alongside.
type Fingerprint struct {
	Filename     string `json:"filename"`
	Size         int64  `json:"size"`
	SHA256Base64 string `json:"sha256_base64"`
}

// ComputeFingerprint hashes raw attachment bytes with SHA-256 and encodes
// the digest with standard padded Base64.
func ComputeFingerprint(filename string, data []byte) Fingerprint {
	sum := sha256.Sum256(data)
	return Fingerprint{
		Filename:     filename,
		Size:         int64(len(data)),
		SHA256Base64: base64.StdEncoding.EncodeToString(sum[:]),
	}
}

// matches reports whether two fingerprint sets pin the same artifacts: same
// filenames, same hashes, same sizes. Compared as multisets, so tickets
// carrying several attachments under one filename stay tamper-evident. Any
// added, removed, or mismatched file breaks the match.
func matches(pinned, current []Fingerprint) bool {
	if len(pinned) != len(current) {
		return false
	}
	counts := make(map[Fingerprint]int, len(pinned))
	for _, fp := range pinned {
		counts[fp]++
	}
	for _, fp := range current {
		if counts[fp] == 0 {
			return false
		}
		counts[fp]--
	}
	return true
}
