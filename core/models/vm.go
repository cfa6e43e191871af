// Package models defines domain models for the Firecracker VM daemon.
package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"nfcunha/fcvmd/utils/sanitize"
)

// VMStatus is the lifecycle state of a registry record.
type VMStatus string

const (
	VMStatusRunning VMStatus = "running"
	VMStatusFailed  VMStatus = "failed"
	VMStatusDeleted VMStatus = "deleted"
	// VMStatusUnknown is reported for identifiers absent from the registry.
	// It is never stored.
	VMStatusUnknown VMStatus = "unknown"
)

// Networking is the descriptor recorded for every VM: the executable is
// always asked to attach to the host br0 bridge.
const Networking = "bridge-br0"

// Creation defaults applied when a request omits a field.
const (
	DefaultLabels   = "firecracker"
	DefaultMemoryMB = 8192
	DefaultVCPUs    = 4
)

// ErrInvalidVMID is returned for identifiers that cannot be routed or passed
// to the executable as a positional argument.
var ErrInvalidVMID = errors.New("vm_id must start with a letter or digit and contain only letters, digits, '.', '_' and '-'")

var vmIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// ValidateVMID checks that id is usable as a URL path segment, a file name
// prefix and an executable argument.
func ValidateVMID(id string) error {
	if !vmIDPattern.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidVMID, id)
	}
	return nil
}

// VMSpec is a VM creation request.
type VMSpec struct {
	VMID        string `json:"vm_id"`
	GitHubURL   string `json:"github_url"`
	GitHubToken string `json:"github_token"`
	Labels      string `json:"labels"`
	MemoryMB    int    `json:"memory_mb"`
	VCPUs       int    `json:"vcpus"`
	Ephemeral   *bool  `json:"ephemeral,omitempty"`

	// Extra holds request keys the daemon does not interpret.
	Extra map[string]json.RawMessage `json:"extra,omitempty"`
}

var knownSpecKeys = map[string]struct{}{
	"vm_id":        {},
	"github_url":   {},
	"github_token": {},
	"labels":       {},
	"memory_mb":    {},
	"vcpus":        {},
	"ephemeral":    {},
}

// UnmarshalJSON decodes the known fields and keeps every other key in Extra.
func (s *VMSpec) UnmarshalJSON(data []byte) error {
	type plain VMSpec
	var known plain
	if err := json.Unmarshal(data, &known); err != nil {
		return err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	known.Extra = nil
	for key, value := range raw {
		if _, ok := knownSpecKeys[key]; ok {
			continue
		}
		if known.Extra == nil {
			known.Extra = make(map[string]json.RawMessage)
		}
		known.Extra[key] = value
	}

	*s = VMSpec(known)
	return nil
}

// WithDefaults returns a copy of s with unset fields filled in.
func (s VMSpec) WithDefaults() VMSpec {
	if s.Labels == "" {
		s.Labels = DefaultLabels
	}
	if s.MemoryMB <= 0 {
		s.MemoryMB = DefaultMemoryMB
	}
	if s.VCPUs <= 0 {
		s.VCPUs = DefaultVCPUs
	}
	if s.Ephemeral == nil {
		ephemeral := true
		s.Ephemeral = &ephemeral
	}
	return s
}

// IsEphemeral reports whether the runner should deregister after one job.
// Unset means true.
func (s VMSpec) IsEphemeral() bool {
	return s.Ephemeral == nil || *s.Ephemeral
}

// Redacted returns a copy safe to store and emit: the credential is replaced
// and every free-form value is sanitized.
func (s VMSpec) Redacted() VMSpec {
	if s.GitHubToken != "" {
		s.GitHubToken = sanitize.Placeholder
	}
	s.GitHubURL = sanitize.Sanitize(s.GitHubURL)
	s.Labels = sanitize.Sanitize(s.Labels)

	if len(s.Extra) > 0 {
		extra := make(map[string]json.RawMessage, len(s.Extra))
		for key, value := range s.Extra {
			if _, secret := credentialExtraKeys[key]; secret {
				extra[key] = json.RawMessage(fmt.Sprintf("%q", sanitize.Placeholder))
				continue
			}
			cleaned := json.RawMessage(sanitize.Sanitize(string(value)))
			if !json.Valid(cleaned) {
				cleaned = json.RawMessage(fmt.Sprintf("%q", sanitize.Placeholder))
			}
			extra[key] = cleaned
		}
		s.Extra = extra
	}
	return s
}

var credentialExtraKeys = map[string]struct{}{
	"token":              {},
	"registration_token": {},
	"access_token":       {},
	"password":           {},
	"secret":             {},
}

// VMRecord is the registry's view of a single VM.
type VMRecord struct {
	Status     VMStatus   `json:"status"`
	CreatedAt  *time.Time `json:"created_at,omitempty"`
	DeletedAt  *time.Time `json:"deleted_at,omitempty"`
	UpdatedAt  time.Time  `json:"updated_at"`
	Spec       VMSpec     `json:"spec"`
	Networking string     `json:"networking"`
}

// VMRecordSet maps VM identifiers to records.
type VMRecordSet map[string]VMRecord
