package engine

import (
	"fmt"
	"strconv"
)

// restrictionFlags are applied, in this order, when an encrypted document
// has a distinct owner password.
var restrictionFlags = []string{
	"--modify=none",
	"--extract=n",
	"--print=none",
	"--accessibility=n",
	"--annotate=n",
	"--assemble=n",
	"--form=n",
	"--modify-other=n",
}

// RestrictionFlags returns a copy of the restriction flags in argument order.
func RestrictionFlags() []string {
	return append([]string(nil), restrictionFlags...)
}

// BuildArgs returns the argument vector for op reading from paths.Input and
// writing to paths.Output.
func BuildArgs(op Operation, paths StagedPaths) ([]string, error) {
	switch o := op.(type) {
	case Encrypt:
		return EncryptArgs(o, paths.Input, paths.Output), nil
	case *Encrypt:
		return EncryptArgs(*o, paths.Input, paths.Output), nil
	case Decrypt:
		return DecryptArgs(o, paths.Input, paths.Output), nil
	case *Decrypt:
		return DecryptArgs(*o, paths.Input, paths.Output), nil
	case RemoveRestrictions:
		return RemoveRestrictionsArgs(o, paths.Input, paths.Output), nil
	case *RemoveRestrictions:
		return RemoveRestrictionsArgs(*o, paths.Input, paths.Output), nil
	case Linearize, *Linearize:
		return LinearizeArgs(paths.Input, paths.Output), nil
	default:
		return nil, fmt.Errorf("unsupported operation %T", op)
	}
}

// EncryptArgs builds:
//
//	in --encrypt user owner bits [restriction flags] -- out
//
// Restriction flags are only added when a distinct owner password was given,
// so a single-password document is not locked down for its only holder.
func EncryptArgs(op Encrypt, in, out string) []string {
	args := []string{
		in,
		"--encrypt",
		op.UserPassword,
		op.EffectiveOwner(),
		strconv.Itoa(op.EffectiveKeyLength()),
	}
	if op.DistinctOwner() {
		args = append(args, restrictionFlags...)
	}
	return append(args, "--", out)
}

// DecryptArgs builds: in --password=pw --decrypt out
func DecryptArgs(op Decrypt, in, out string) []string {
	return []string{in, "--password=" + op.Password, "--decrypt", out}
}

// RemoveRestrictionsArgs builds:
//
//	in [--password=pw] --decrypt --remove-restrictions -- out
func RemoveRestrictionsArgs(op RemoveRestrictions, in, out string) []string {
	args := []string{in}
	if op.Password != "" {
		args = append(args, "--password="+op.Password)
	}
	return append(args, "--decrypt", "--remove-restrictions", "--", out)
}

// LinearizeArgs builds: in --linearize out
func LinearizeArgs(in, out string) []string {
	return []string{in, "--linearize", out}
}
