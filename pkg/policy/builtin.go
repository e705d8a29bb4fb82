package policy

import (
	"time"
)

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	policies := []Policy{
		maxInputSizePolicy(),
		weakKeyLengthPolicy(),
		ownerPasswordPolicy(),
		pdfExtensionPolicy(),
	}
	now := time.Now()
	for i := range policies {
		policies[i].Builtin = true
		policies[i].Enabled = true
		policies[i].CreatedAt = now
		policies[i].UpdatedAt = now
	}
	return policies
}

// maxInputSizePolicy rejects documents above the configured size limit.
func maxInputSizePolicy() Policy {
	return Policy{
		Name:        "max-input-size",
		Description: "Rejects documents larger than limits.max_input_bytes",
		Severity:    SeverityError,
		Tags:        []string{"limits"},
		Rego: `package docstage.policies.size

import rego.v1

deny contains violation if {
	input.limits.max_input_bytes > 0
	input.document.size > input.limits.max_input_bytes
	violation := {
		"message": sprintf("Document %s is %d bytes, above the %d byte limit", [input.document.name, input.document.size, input.limits.max_input_bytes]),
		"severity": "error",
		"remediation": "Split the document or raise policy.max_input_bytes",
	}
}
`,
	}
}

// weakKeyLengthPolicy warns about 128-bit encryption.
func weakKeyLengthPolicy() Policy {
	return Policy{
		Name:        "weak-key-length",
		Description: "Warns when documents are encrypted with keys shorter than 256 bits",
		Severity:    SeverityWarning,
		Tags:        []string{"encryption"},
		Rego: `package docstage.policies.keylength

import rego.v1

deny contains violation if {
	input.operation.kind == "encrypt"
	input.operation.key_length > 0
	input.operation.key_length < 256
	violation := {
		"message": sprintf("%d-bit keys are weaker than the 256-bit default", [input.operation.key_length]),
		"severity": "warning",
		"remediation": "Use --key-length 256",
	}
}
`,
	}
}

// ownerPasswordPolicy recommends a distinct owner password.
func ownerPasswordPolicy() Policy {
	return Policy{
		Name:        "owner-password-recommended",
		Description: "Recommends an owner password distinct from the user password",
		Severity:    SeverityWarning,
		Tags:        []string{"encryption", "permissions"},
		Rego: `package docstage.policies.owner

import rego.v1

deny contains violation if {
	input.operation.kind == "encrypt"
	not input.operation.distinct_owner
	violation := {
		"message": "No distinct owner password: the document will carry no permission restrictions",
		"severity": "warning",
		"remediation": "Set --owner-password to restrict printing and editing",
	}
}
`,
	}
}

// pdfExtensionPolicy notes inputs without a .pdf extension.
func pdfExtensionPolicy() Policy {
	return Policy{
		Name:        "pdf-extension",
		Description: "Notes inputs whose name does not end in .pdf",
		Severity:    SeverityInfo,
		Tags:        []string{"naming"},
		Rego: `package docstage.policies.extension

import rego.v1

deny contains violation if {
	not endswith(lower(input.document.name), ".pdf")
	violation := {
		"message": sprintf("%s does not have a .pdf extension", [input.document.name]),
		"severity": "info",
	}
}
`,
	}
}
