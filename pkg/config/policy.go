package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"github.com/Mindburn-Labs/credledger/pkg/fraud"
)

// supportedPolicyVersions is the range of policy file versions this build reads.
const supportedPolicyVersions = ">= 1.0.0, < 2.0.0"

// Policy is the operator-maintained YAML file holding fraud thresholds, CEL
// rules and the expiration policy.
type Policy struct {
	Version  string        `yaml:"version"`
	TokenTTL time.Duration `yaml:"token_ttl"`
	Fraud    fraud.Config  `yaml:"fraud"`
}

// DefaultPolicy is used when no policy file is configured.
func DefaultPolicy() *Policy {
	return &Policy{Version: "1.0.0", Fraud: fraud.DefaultConfig()}
}

// LoadPolicy reads and validates a policy file.
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load policy %q: %w", path, err)
	}
	return ParsePolicy(data)
}

// ParsePolicy decodes policy YAML. Unknown fields are rejected.
func ParsePolicy(data []byte) (*Policy, error) {
	var p Policy
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("parse policy: %w", err)
	}

	if p.Version == "" {
		return nil, errors.New("parse policy: version is required")
	}
	v, err := semver.NewVersion(p.Version)
	if err != nil {
		return nil, fmt.Errorf("parse policy: version %q: %w", p.Version, err)
	}
	c, err := semver.NewConstraint(supportedPolicyVersions)
	if err != nil {
		return nil, err
	}
	if !c.Check(v) {
		return nil, fmt.Errorf("parse policy: version %s not in %s", v, supportedPolicyVersions)
	}
	if p.TokenTTL < 0 {
		return nil, errors.New("parse policy: token_ttl must not be negative")
	}
	return &p, nil
}
