// Package spec implements the collaborative specification workflow: a
// triage-routed conversation that turns a project idea into a functional
// spec, a test plan, a review, tracker artifacts, and finally a code job.
package spec

import "strings"

// Route is the triage outcome for one user message.
type Route string

const (
	RouteDefinition     Route = "DEFINITION"
	RouteTest           Route = "TEST"
	RouteReview         Route = "REVIEW"
	RouteApprove        Route = "APPROVE"
	RouteReviseSpec     Route = "REVISE_FUNCTIONAL_SPEC"
	RouteReviseTestPlan Route = "REVISE_TEST_PLAN"
	RouteDevOps         Route = "AZURE_DEVOPS"
	RouteImplement      Route = "IMPLEMENT"
	RouteSmallTalk      Route = "SMALL_TALK"
	RouteGeneral        Route = "GENERAL"
)

// triageVocabulary is the label list the triage agent is asked to answer
// with for a regular message.
const triageVocabulary = "DEFINITION, TEST, REVIEW, APPROVE, REVISE_FUNCTIONAL_SPEC, REVISE_TEST_PLAN, AZURE_DEVOPS, IMPLEMENT, SMALL_TALK, GENERAL"

// ParseRoute maps a triage response to a Route by substring matching on the
// upper-cased text. Revision labels are checked first because they embed
// DEFINITION-adjacent and TEST tokens; anything unrecognized falls through
// to RouteGeneral.
func ParseRoute(response string) Route {
	text := strings.ToUpper(response)
	switch {
	case strings.Contains(text, string(RouteReviseSpec)):
		return RouteReviseSpec
	case strings.Contains(text, string(RouteReviseTestPlan)):
		return RouteReviseTestPlan
	case strings.Contains(text, string(RouteDefinition)):
		return RouteDefinition
	case strings.Contains(text, string(RouteTest)):
		return RouteTest
	case strings.Contains(text, string(RouteReview)):
		return RouteReview
	case strings.Contains(text, string(RouteDevOps)), strings.Contains(text, "DEVOPS"):
		return RouteDevOps
	case strings.Contains(text, string(RouteImplement)):
		return RouteImplement
	case strings.Contains(text, string(RouteApprove)):
		return RouteApprove
	case strings.Contains(text, string(RouteSmallTalk)):
		return RouteSmallTalk
	default:
		return RouteGeneral
	}
}

// RevisionTarget is the narrowed triage outcome for an applied review
// suggestion.
type RevisionTarget string

const (
	ReviseSpecTarget     RevisionTarget = "REVISE_FUNCTIONAL_SPEC"
	ReviseTestPlanTarget RevisionTarget = "REVISE_TEST_PLAN"
	ReviseSmallTalk      RevisionTarget = "SMALL_TALK"
	ReviseUnknown        RevisionTarget = "UNKNOWN"
)

// ParseRevisionTarget maps a narrowed triage response for a suggestion to
// the artifact it should revise.
func ParseRevisionTarget(response string) RevisionTarget {
	text := strings.ToUpper(response)
	switch {
	case strings.Contains(text, string(ReviseSpecTarget)):
		return ReviseSpecTarget
	case strings.Contains(text, string(ReviseTestPlanTarget)):
		return ReviseTestPlanTarget
	case strings.Contains(text, string(ReviseSmallTalk)):
		return ReviseSmallTalk
	default:
		return ReviseUnknown
	}
}
