// Package policy gates document operations with Open Policy Agent (OPA)
// Rego policies.
//
// Engine satisfies engine.PolicyGate. Before a document is staged the
// runner calls Check, which evaluates every enabled policy's deny set
// against an Input:
//
//	{
//	  "operation": {"kind": "encrypt", "key_length": 128,
//	                "has_user_password": true, "has_owner_password": false,
//	                "distinct_owner": false, "has_password": false},
//	  "document":  {"name": "report.pdf", "size": 48213},
//	  "limits":    {"max_input_bytes": 104857600}
//	}
//
// Passwords never appear in the input, only whether they were supplied.
//
// Each deny member is either a string or an object with "message",
// "severity" and "remediation". Violations with severity error or critical
// deny the operation with a policy_denied error. Info and warning
// violations are logged and passed to the ViolationHandler.
//
// # Built-in policies
//
//   - max-input-size (error): document.size above limits.max_input_bytes
//   - weak-key-length (warning): encrypt with a key shorter than 256 bits
//   - owner-password-recommended (warning): encrypt without a distinct owner password
//   - pdf-extension (info): input name without a .pdf extension
//
// # User policies
//
// LoadPolicies reads .rego files (named after the file, severity from a
// "# severity: <level>" header comment), JSON policy files and JSON bundles
// with a "policies" array. Watch reloads them with fsnotify when they
// change; a reload that fails to compile leaves the previous set active.
//
//	eng, err := policy.NewEngine(logger, policy.WithMaxInputBytes(100<<20))
//	if err != nil {
//	    return err
//	}
//	if err := eng.LoadPolicies(ctx, []string{"/etc/docstage/policies"}); err != nil {
//	    return err
//	}
//	runner := engine.NewRunner(lifecycle, engine.WithPolicyGate(eng))
package policy
