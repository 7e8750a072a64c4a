package models

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveTransition(t *testing.T) {
	t.Run("advisor approves submitted", func(t *testing.T) {
		to, stateOK, roleOK := ResolveTransition(RequestStateSubmitted, ActionApprove, RoleAdvisor)
		require.True(t, stateOK)
		require.True(t, roleOK)
		require.Equal(t, RequestStateApproved, to)
	})

	t.Run("student cannot approve", func(t *testing.T) {
		_, stateOK, roleOK := ResolveTransition(RequestStateSubmitted, ActionApprove, RoleStudent)
		require.True(t, stateOK)
		require.False(t, roleOK)
	})

	t.Run("terminal state rejects any action", func(t *testing.T) {
		_, stateOK, _ := ResolveTransition(RequestStateApproved, ActionReject, RoleAdvisor)
		require.False(t, stateOK)
	})

	t.Run("final approve from dept review", func(t *testing.T) {
		_, stateOK, _ := ResolveTransition(RequestStateSubmitted, ActionFinalApprove, RoleDepartmentHead)
		require.False(t, stateOK)

		to, stateOK, roleOK := ResolveTransition(RequestStateDeptReview, ActionFinalApprove, RoleDepartmentHead)
		require.True(t, stateOK)
		require.True(t, roleOK)
		require.Equal(t, RequestStateApproved, to)
	})

	t.Run("exception granted awaits final approval", func(t *testing.T) {
		to, stateOK, roleOK := ResolveTransition(RequestStateExceptionGranted, ActionFinalApprove, RoleDepartmentHead)
		require.True(t, stateOK)
		require.True(t, roleOK)
		require.Equal(t, RequestStateApproved, to)

		to, stateOK, roleOK = ResolveTransition(RequestStateExceptionGranted, ActionReject, RoleDepartmentHead)
		require.True(t, stateOK)
		require.True(t, roleOK)
		require.Equal(t, RequestStateRejected, to)

		// A plain approve may not bypass the final review.
		_, stateOK, _ = ResolveTransition(RequestStateExceptionGranted, ActionApprove, RoleAdvisor)
		require.False(t, stateOK)
	})

	t.Run("grant exception only from dept review", func(t *testing.T) {
		_, stateOK, _ := ResolveTransition(RequestStateSubmitted, ActionGrantException, RoleDepartmentHead)
		require.False(t, stateOK)

		to, stateOK, roleOK := ResolveTransition(RequestStateDeptReview, ActionGrantException, RoleDepartmentHead)
		require.True(t, stateOK)
		require.True(t, roleOK)
		require.Equal(t, RequestStateExceptionGranted, to)
	})

	t.Run("student cancels any pending state", func(t *testing.T) {
		for _, from := range []RequestState{RequestStateSubmitted, RequestStateAdvisorReview, RequestStateDeptReview, RequestStateExceptionGranted} {
			to, stateOK, roleOK := ResolveTransition(from, ActionCancel, RoleStudent)
			require.True(t, stateOK, from)
			require.True(t, roleOK, from)
			require.Equal(t, RequestStateCancelled, to)
		}
	})
}

func TestRequestStateIsTerminal(t *testing.T) {
	terminal := []RequestState{RequestStateApproved, RequestStateRejected, RequestStateCancelled}
	for _, s := range terminal {
		require.True(t, s.IsTerminal(), s)
	}
	pending := []RequestState{RequestStateSubmitted, RequestStateAdvisorReview, RequestStateDeptReview, RequestStateExceptionGranted}
	for _, s := range pending {
		require.False(t, s.IsTerminal(), s)
	}
}

func TestFilterWaived(t *testing.T) {
	violations := []Violation{
		{RuleCode: RuleCapacity, Severity: SeverityError},
		{RuleCode: RulePrereq, Severity: SeverityWarning},
	}
	kept := FilterWaived(violations, map[RuleCode]bool{RuleCapacity: true})
	require.Len(t, kept, 1)
	require.Equal(t, RulePrereq, kept[0].RuleCode)

	require.Equal(t, violations, FilterWaived(violations, nil))
}

func TestExceptionTypeWaivedRule(t *testing.T) {
	require.Equal(t, RulePrereq, ExceptionPrereqWaiver.WaivedRule())
	require.Equal(t, RuleCapacity, ExceptionCapacityOverride.WaivedRule())
	require.Equal(t, RuleCode(""), ExceptionType("bogus").WaivedRule())
}
