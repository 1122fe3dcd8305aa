// Package policyssm loads rate-limit policy overrides from SSM Parameter
// Store at startup. The parameter holds a JSON object with any subset of
// the policy fields; values present in the parameter win over flag/env
// values, and a malformed parameter is a fatal startup error like any other
// invalid config.
package policyssm

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/pattcore/faceit-ai-bot-sub000/internal/cfg"
	"github.com/pattcore/faceit-ai-bot-sub000/internal/xerrors"
)

// ParameterGetter is the slice of the SSM client we need; fakes implement
// it in tests.
type ParameterGetter interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Overrides mirrors the policy fields of cfg.App. Pointer fields distinguish
// "absent" from zero values.
type Overrides struct {
	RequestsPerMinute *int  `json:"requests_per_minute,omitempty"`
	RequestsPerHour   *int  `json:"requests_per_hour,omitempty"`
	BanEnabled        *bool `json:"ban_enabled,omitempty"`
	BanThreshold      *int  `json:"ban_threshold,omitempty"`
	BanWindowSeconds  *int  `json:"ban_window_seconds,omitempty"`
	BanTTLSeconds     *int  `json:"ban_ttl_seconds,omitempty"`
}

// Load fetches and parses the overrides parameter.
func Load(ctx context.Context, client ParameterGetter, param string) (Overrides, error) {
	var o Overrides
	if param == "" {
		return o, xerrors.New("policy parameter name is required")
	}

	out, err := client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(param),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return o, xerrors.Wrapf(err, "get SSM parameter %s", param)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return o, xerrors.Newf("SSM parameter %s has no value", param)
	}

	raw := strings.TrimSpace(*out.Parameter.Value)
	if raw == "" {
		return o, xerrors.Newf("SSM parameter %s is empty", param)
	}

	dec := json.NewDecoder(strings.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&o); err != nil {
		return o, xerrors.Wrapf(err, "parse SSM parameter %s", param)
	}
	return o, nil
}

// Apply copies the present override fields onto the config. The caller
// re-validates the config afterwards.
func (o Overrides) Apply(c *cfg.App) {
	if o.RequestsPerMinute != nil {
		c.RequestsPerMinute = *o.RequestsPerMinute
	}
	if o.RequestsPerHour != nil {
		c.RequestsPerHour = *o.RequestsPerHour
	}
	if o.BanEnabled != nil {
		c.BanEnabled = *o.BanEnabled
	}
	if o.BanThreshold != nil {
		c.BanThreshold = *o.BanThreshold
	}
	if o.BanWindowSeconds != nil {
		c.BanWindowSeconds = *o.BanWindowSeconds
	}
	if o.BanTTLSeconds != nil {
		c.BanTTLSeconds = *o.BanTTLSeconds
	}
}
