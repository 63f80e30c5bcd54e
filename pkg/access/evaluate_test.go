package access

import (
	"testing"
	"time"

	"github.com/trellishq/trellis/pkg/policy"
)

func evalInput(subject string, policies []policy.NodePolicy, orgs ...string) Input {
	memberOrgs := make(map[string]struct{}, len(orgs))
	for _, o := range orgs {
		memberOrgs[o] = struct{}{}
	}
	return Input{
		OwnerID:    "owner",
		SubjectID:  subject,
		Action:     policy.ActionView,
		Policies:   policies,
		MemberOrgs: memberOrgs,
		Now:        time.Now().UTC(),
	}
}

func allow(st policy.SubjectType, id string, level policy.Level) policy.NodePolicy {
	return policy.NodePolicy{SubjectType: st, SubjectID: id, Action: policy.ActionView, Effect: policy.EffectAllow, Level: level}
}

func deny(st policy.SubjectType, id string) policy.NodePolicy {
	return policy.NodePolicy{SubjectType: st, SubjectID: id, Action: policy.ActionView, Effect: policy.EffectDeny}
}

func TestEvaluate_OwnerAlwaysFull(t *testing.T) {
	// Even direct and org-level denies cannot lock an owner out.
	in := evalInput("owner", []policy.NodePolicy{
		deny(policy.SubjectUser, "owner"),
		deny(policy.SubjectOrg, "org-1"),
		deny(policy.SubjectPublic, ""),
	}, "org-1")

	d := Evaluate(in)
	if !d.Allowed || d.Level != policy.LevelFull || d.Source != SourceOwner {
		t.Errorf("Expected owner Allow/Full, got %+v", d)
	}
}

func TestEvaluate_DenyIgnoresLevel(t *testing.T) {
	// A deny blocks the action outright, whatever level it carries.
	denyWithLevel := deny(policy.SubjectUser, "user-1")
	denyWithLevel.Level = policy.LevelOverview

	d := Evaluate(evalInput("user-1", []policy.NodePolicy{
		denyWithLevel,
		allow(policy.SubjectPublic, "", policy.LevelFull),
	}))
	if d.Allowed {
		t.Errorf("Expected deny regardless of level, got %+v", d)
	}
	if d.Level != "" {
		t.Errorf("Expected empty level on deny, got %s", d.Level)
	}
}

func TestEvaluate_DefaultDeny(t *testing.T) {
	d := Evaluate(evalInput("user-1", nil))
	if d.Allowed {
		t.Errorf("Expected default deny, got %+v", d)
	}
	if d.Source != SourceNone {
		t.Errorf("Expected source none, got %s", d.Source)
	}
}

func TestEvaluate_DenyPrecedence(t *testing.T) {
	// A more specific allow never beats a deny in any tier.
	cases := []struct {
		name     string
		policies []policy.NodePolicy
	}{
		{"user allow vs user deny", []policy.NodePolicy{
			allow(policy.SubjectUser, "user-1", policy.LevelFull),
			deny(policy.SubjectUser, "user-1"),
		}},
		{"user allow vs org deny", []policy.NodePolicy{
			allow(policy.SubjectUser, "user-1", policy.LevelFull),
			deny(policy.SubjectOrg, "org-1"),
		}},
		{"public allow vs public deny", []policy.NodePolicy{
			allow(policy.SubjectPublic, "", policy.LevelOverview),
			deny(policy.SubjectPublic, ""),
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := Evaluate(evalInput("user-1", tc.policies, "org-1"))
			if d.Allowed {
				t.Errorf("Expected deny, got %+v", d)
			}
			if d.Source != SourceDeny {
				t.Errorf("Expected source deny, got %s", d.Source)
			}
		})
	}
}

func TestEvaluate_DenyForOtherSubjectIgnored(t *testing.T) {
	d := Evaluate(evalInput("user-1", []policy.NodePolicy{
		allow(policy.SubjectUser, "user-1", policy.LevelOverview),
		deny(policy.SubjectUser, "user-2"),
		deny(policy.SubjectOrg, "org-9"),
	}))
	if !d.Allowed || d.Level != policy.LevelOverview {
		t.Errorf("Expected allow at overview, got %+v", d)
	}
}

func TestEvaluate_TierPrecedence(t *testing.T) {
	// user beats org beats public, regardless of levels.
	policies := []policy.NodePolicy{
		allow(policy.SubjectPublic, "", policy.LevelFull),
		allow(policy.SubjectOrg, "org-1", policy.LevelFull),
		allow(policy.SubjectUser, "user-1", policy.LevelOverview),
	}
	d := Evaluate(evalInput("user-1", policies, "org-1"))
	if !d.Allowed || d.Level != policy.LevelOverview || d.Source != SourceUser {
		t.Errorf("Expected user-tier overview to win, got %+v", d)
	}

	// Without a user policy, org wins over public.
	d = Evaluate(evalInput("user-1", policies[:2], "org-1"))
	if !d.Allowed || d.Source != SourceOrg {
		t.Errorf("Expected org tier to win, got %+v", d)
	}

	// A non-member falls through to public.
	d = Evaluate(evalInput("user-1", policies[:2]))
	if !d.Allowed || d.Source != SourcePublic {
		t.Errorf("Expected public tier, got %+v", d)
	}
}

func TestEvaluate_HighestLevelWithinTier(t *testing.T) {
	d := Evaluate(evalInput("user-1", []policy.NodePolicy{
		allow(policy.SubjectOrg, "org-1", policy.LevelOverview),
		allow(policy.SubjectOrg, "org-2", policy.LevelFull),
	}, "org-1", "org-2"))
	if !d.Allowed || d.Level != policy.LevelFull {
		t.Errorf("Expected full within org tier, got %+v", d)
	}
}

func TestEvaluate_ExpiredPolicyIgnored(t *testing.T) {
	past := time.Now().UTC().Add(-time.Minute)
	p := allow(policy.SubjectUser, "user-1", policy.LevelFull)
	p.ExpiresAt = &past

	d := Evaluate(evalInput("user-1", []policy.NodePolicy{p}))
	if d.Allowed {
		t.Errorf("Expected expired allow to be ignored, got %+v", d)
	}

	// An expired deny no longer blocks.
	pd := deny(policy.SubjectUser, "user-1")
	pd.ExpiresAt = &past
	d = Evaluate(evalInput("user-1", []policy.NodePolicy{
		pd,
		allow(policy.SubjectPublic, "", policy.LevelOverview),
	}))
	if !d.Allowed || d.Source != SourcePublic {
		t.Errorf("Expected expired deny to be ignored, got %+v", d)
	}
}

func TestEvaluate_ActionMismatchIgnored(t *testing.T) {
	p := allow(policy.SubjectUser, "user-1", policy.LevelFull)
	p.Action = policy.ActionEdit

	in := evalInput("user-1", []policy.NodePolicy{p})
	d := Evaluate(in)
	if d.Allowed {
		t.Errorf("Expected view check to ignore edit policy, got %+v", d)
	}

	in.Action = policy.ActionEdit
	d = Evaluate(in)
	if !d.Allowed {
		t.Errorf("Expected edit policy to apply to edit check, got %+v", d)
	}
}

func TestEvaluate_AnonymousSubject(t *testing.T) {
	policies := []policy.NodePolicy{
		allow(policy.SubjectUser, "user-1", policy.LevelFull),
		allow(policy.SubjectPublic, "", policy.LevelOverview),
	}
	d := Evaluate(evalInput(Anonymous, policies))
	if !d.Allowed || d.Level != policy.LevelOverview || d.Source != SourcePublic {
		t.Errorf("Expected anonymous to get public overview, got %+v", d)
	}

	d = Evaluate(evalInput(Anonymous, policies[:1]))
	if d.Allowed {
		t.Errorf("Expected anonymous deny without public policy, got %+v", d)
	}
}
