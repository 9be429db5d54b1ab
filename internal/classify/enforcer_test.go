package classify

import (
	"context"
	"testing"

	"github.com/strukta/bastion/internal/logger"
)

func inspectionRecord() Record {
	return Record{
		ID:    "inspection-42",
		Label: Confidential,
		Fields: map[string]Field{
			"address":        {Value: "12 Harbour St", Label: Public},
			"deficiencies":   {Value: "load-bearing crack, level B2", Label: Confidential},
			"security_notes": {Value: "access codes on file", Label: Secret},
			"source_intel":   {Value: "informant report 9", Label: TopSecret},
		},
	}
}

func TestSanitizeRedactsAboveClearance(t *testing.T) {
	e := NewEnforcer(nil, logger.Nop())

	got, err := e.Sanitize(inspectionRecord(), Confidential)
	if err != nil {
		t.Fatalf("sanitize failed: %v", err)
	}

	if got.Fields["address"].Value != "12 Harbour St" {
		t.Error("public field must survive sanitization")
	}
	if got.Fields["deficiencies"].Value != "load-bearing crack, level B2" {
		t.Error("field at clearance level must survive sanitization")
	}
	if got.Fields["security_notes"].Value != Redacted {
		t.Errorf("secret field should be redacted, got %q", got.Fields["security_notes"].Value)
	}
	if got.Fields["source_intel"].Value != Redacted {
		t.Errorf("top secret field should be redacted, got %q", got.Fields["source_intel"].Value)
	}
}

func TestSanitizeTopClearanceReturnsUnmodified(t *testing.T) {
	e := NewEnforcer(nil, logger.Nop())
	original := inspectionRecord()

	got, err := e.Sanitize(original, TopSecret)
	if err != nil {
		t.Fatalf("sanitize failed: %v", err)
	}
	for name, field := range original.Fields {
		if got.Fields[name] != field {
			t.Errorf("field %s changed under top clearance: %+v", name, got.Fields[name])
		}
	}
}

func TestSanitizeWithholdsRecordAboveClearance(t *testing.T) {
	e := NewEnforcer(nil, logger.Nop())
	rec := inspectionRecord()
	rec.Label = Secret

	if _, err := e.Sanitize(rec, Confidential); err != ErrWithheld {
		t.Fatalf("expected ErrWithheld, got %v", err)
	}
}

func TestSanitizeDoesNotMutateOriginal(t *testing.T) {
	e := NewEnforcer(nil, logger.Nop())
	original := inspectionRecord()

	if _, err := e.Sanitize(original, Public); err != nil {
		t.Fatalf("sanitize failed: %v", err)
	}
	if original.Fields["security_notes"].Value != "access codes on file" {
		t.Error("sanitize mutated the source record")
	}
}

func TestClassifyRejectsDowngradeAndMissingAuthority(t *testing.T) {
	e := NewEnforcer(nil, logger.Nop())
	rec := inspectionRecord()

	if err := e.Classify(context.Background(), &rec, Secret, ""); err != ErrAuthorityRequired {
		t.Fatalf("expected ErrAuthorityRequired, got %v", err)
	}
	if err := e.Classify(context.Background(), &rec, Secret, "dir-1"); err != nil {
		t.Fatalf("classify failed: %v", err)
	}
	if rec.Label != Secret {
		t.Fatalf("expected label SECRET, got %s", rec.Label)
	}
	if err := e.Classify(context.Background(), &rec, Public, "dir-1"); err != ErrLabelDowngrade {
		t.Fatalf("expected ErrLabelDowngrade, got %v", err)
	}
}

func TestDeclassifyLowersFieldsAndLabel(t *testing.T) {
	e := NewEnforcer(nil, logger.Nop())
	rec := inspectionRecord()
	rec.Label = Secret

	if err := e.Declassify(context.Background(), &rec, Confidential, ""); err != ErrAuthorityRequired {
		t.Fatalf("declassify must demand an authority, got %v", err)
	}
	if err := e.Declassify(context.Background(), &rec, Confidential, "dir-1"); err != nil {
		t.Fatalf("declassify failed: %v", err)
	}
	if rec.Label != Confidential {
		t.Fatalf("expected label CONFIDENTIAL, got %s", rec.Label)
	}
	for name, field := range rec.Fields {
		if field.Label > Confidential {
			t.Errorf("field %s retained label %s after declassification", name, field.Label)
		}
	}
}

func TestParseLabelRoundTrip(t *testing.T) {
	for _, l := range []Label{Public, Confidential, Secret, TopSecret} {
		parsed, err := ParseLabel(l.String())
		if err != nil {
			t.Fatalf("parse %s failed: %v", l, err)
		}
		if parsed != l {
			t.Errorf("round trip %s -> %s", l, parsed)
		}
	}
	if _, err := ParseLabel("RESTRICTED"); err == nil {
		t.Error("expected error for unknown label")
	}
}
