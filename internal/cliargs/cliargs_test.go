package cliargs

import "testing"

func TestParseServerMode(t *testing.T) {
	result, err := Parse([]string{"-s", "5000"})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if result.Mode != ModeServer || result.Server.Port != 5000 {
		t.Errorf("result = %+v, want server mode on port 5000", result)
	}
}

func TestParseClientMode(t *testing.T) {
	result, err := Parse([]string{"-c", "c1", "1.2.3.4", "4321", "5555"})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := ClientOpts{Name: "c1", ServerIP: "1.2.3.4", ServerPort: 4321, ClientPort: 5555}
	if result.Mode != ModeClient || result.Client != want {
		t.Errorf("result = %+v, want client mode %+v", result, want)
	}
}

func TestParseNoArgsIsValidationError(t *testing.T) {
	_, err := Parse(nil)
	var verr *ValidationError
	if !asValidationError(err, &verr) {
		t.Fatalf("err = %v, want *ValidationError", err)
	}
}

func TestParseUnknownModeIsValidationError(t *testing.T) {
	_, err := Parse([]string{"-x"})
	if err == nil {
		t.Fatal("expected an error for an unrecognized mode")
	}
	want := "-x is not a valid mode"
	if err.Error() != want {
		t.Errorf("err = %q, want %q", err.Error(), want)
	}
}

func TestParseServerModeWrongArgCount(t *testing.T) {
	_, err := Parse([]string{"-s", "5000", "extra"})
	want := "`-s` only accepts <port>"
	if err == nil || err.Error() != want {
		t.Errorf("err = %v, want %q", err, want)
	}
}

func TestParseServerModeInvalidPort(t *testing.T) {
	_, err := Parse([]string{"-s", "80"})
	if err == nil {
		t.Fatal("expected a validation error for a sub-1024 port")
	}
}

func TestParseClientModeInvalidIP(t *testing.T) {
	_, err := Parse([]string{"-c", "c1", "not-an-ip", "4321", "5555"})
	if err == nil {
		t.Fatal("expected a validation error for a malformed server IP")
	}
}

func TestParseHelpFlagReturnsErrHelpRequested(t *testing.T) {
	_, err := Parse([]string{"-s", "-h"})
	help, ok := IsHelpRequested(err)
	if !ok {
		t.Fatalf("err = %v, want ErrHelpRequested", err)
	}
	if help.Message != serverHelp {
		t.Errorf("help text mismatch")
	}
}

func asValidationError(err error, target **ValidationError) bool {
	ve, ok := err.(*ValidationError)
	if ok {
		*target = ve
	}
	return ok
}
