package config

import (
	"github.com/vocdoni/shieldpay/circuits"
)

// ArtifactsConfig locates the spend circuit verification key. With neither a
// URL nor a file the relayer has no key and runs in sponsor mode.
type ArtifactsConfig struct {
	VerificationKeyURL  string `yaml:"verificationKeyURL"`
	VerificationKeyHash string `yaml:"verificationKeyHash"`
	VerificationKeyFile string `yaml:"verificationKeyFile"`
	Backend             string `yaml:"backend"`
}

// Enabled reports whether a verification key is configured.
func (a ArtifactsConfig) Enabled() bool {
	return a.VerificationKeyURL != "" || a.VerificationKeyFile != ""
}

// VerificationKey returns the artifact of the verification key, or nil if
// none is configured. A local file is read right away, a remote one is
// loaded later through the artifact cache.
func (a ArtifactsConfig) VerificationKey() (*circuits.Artifact, error) {
	if !a.Enabled() {
		return nil, nil
	}
	vk, err := circuits.NewArtifact(a.VerificationKeyURL, a.VerificationKeyHash)
	if err != nil {
		return nil, err
	}
	if a.VerificationKeyFile != "" {
		if err := vk.LoadFile(a.VerificationKeyFile); err != nil {
			return nil, err
		}
	}
	return vk, nil
}
