package main

import (
	"log/slog"

	"github.com/daimoniac/docshield/internal/audit"
	"github.com/daimoniac/docshield/internal/config"
	"github.com/daimoniac/docshield/internal/security"
)

// securityStack is the pattern library, sanitizer, detector and auditor
// built from one policy
type securityStack struct {
	library   *security.Library
	sanitizer *security.Sanitizer
	detector  *security.Detector
	auditor   *audit.Auditor
}

// newSecurityStack builds the security components. A nil policy uses the
// defaults.
func newSecurityStack(policy *config.PolicyFile, logger *slog.Logger) (*securityStack, error) {
	lib, err := policy.Library()
	if err != nil {
		return nil, err
	}

	detectorCfg, err := policy.DetectorConfig()
	if err != nil {
		return nil, err
	}
	auditCfg, err := policy.AuditConfig()
	if err != nil {
		return nil, err
	}

	detector := security.NewDetector(lib, detectorCfg)
	return &securityStack{
		library:   lib,
		sanitizer: security.NewSanitizer(lib, policy.SanitizerConfig()),
		detector:  detector,
		auditor:   audit.NewAuditor(detector, auditCfg, logger),
	}, nil
}
