package policyssm

import (
	"context"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"

	"github.com/pattcore/faceit-ai-bot-sub000/internal/cfg"
	"github.com/pattcore/faceit-ai-bot-sub000/internal/xerrors"
)

type fakeSSM struct {
	value string
	err   error
}

func (f *fakeSSM) GetParameter(ctx context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &ssm.GetParameterOutput{
		Parameter: &ssmtypes.Parameter{Value: aws.String(f.value)},
	}, nil
}

func TestLoadParsesOverrides(t *testing.T) {
	client := &fakeSSM{value: `{"requests_per_minute":120,"ban_ttl_seconds":-1}`}

	o, err := Load(context.Background(), client, "/app/gate/policy")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if o.RequestsPerMinute == nil || *o.RequestsPerMinute != 120 {
		t.Errorf("RequestsPerMinute = %v", o.RequestsPerMinute)
	}
	if o.BanTTLSeconds == nil || *o.BanTTLSeconds != -1 {
		t.Errorf("BanTTLSeconds = %v", o.BanTTLSeconds)
	}
	if o.RequestsPerHour != nil {
		t.Error("absent field should stay nil")
	}
}

func TestLoadRejectsBadPayloads(t *testing.T) {
	cases := []struct {
		name  string
		value string
	}{
		{"empty", "   "},
		{"not json", "requests=60"},
		{"unknown field", `{"requests_per_second":10}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(context.Background(), &fakeSSM{value: tc.value}, "/p")
			if err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestLoadPropagatesClientError(t *testing.T) {
	sentinel := xerrors.New("ssm down")
	_, err := Load(context.Background(), &fakeSSM{err: sentinel}, "/p")
	if err == nil || !strings.Contains(err.Error(), "ssm down") {
		t.Fatalf("expected wrapped client error, got %v", err)
	}
}

func TestApplyOnlyOverridesPresentFields(t *testing.T) {
	c := cfg.App{
		RequestsPerMinute: 60,
		RequestsPerHour:   1000,
		BanThreshold:      5,
	}

	rpm := 120
	banEnabled := false
	o := Overrides{RequestsPerMinute: &rpm, BanEnabled: &banEnabled}
	o.Apply(&c)

	if c.RequestsPerMinute != 120 {
		t.Errorf("RequestsPerMinute = %d", c.RequestsPerMinute)
	}
	if c.BanEnabled {
		t.Error("BanEnabled should be overridden to false")
	}
	if c.RequestsPerHour != 1000 || c.BanThreshold != 5 {
		t.Error("absent fields must not change")
	}
}
