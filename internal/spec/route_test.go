package spec

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseRoute(t *testing.T) {
	tests := []struct {
		name     string
		response string
		expected Route
	}{
		{"definition", "DEFINITION", RouteDefinition},
		{"definition in sentence", "This should go to the ProjectDefinitionAgent: DEFINITION", RouteDefinition},
		{"lowercase", "definition", RouteDefinition},
		{"test", "TEST", RouteTest},
		{"review", "REVIEW", RouteReview},
		{"approve", "APPROVE", RouteApprove},
		{"revise spec wins over definition", "REVISE_FUNCTIONAL_SPEC", RouteReviseSpec},
		{"revise plan wins over test", "REVISE_TEST_PLAN", RouteReviseTestPlan},
		{"azure devops", "AZURE_DEVOPS", RouteDevOps},
		{"bare devops", "route to DEVOPS", RouteDevOps},
		{"implement", "IMPLEMENT", RouteImplement},
		{"small talk", "SMALL_TALK", RouteSmallTalk},
		{"unrecognized", "no idea what this is", RouteGeneral},
		{"empty", "", RouteGeneral},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseRoute(tt.response))
		})
	}
}

func TestParseRevisionTarget(t *testing.T) {
	assert.Equal(t, ReviseSpecTarget, ParseRevisionTarget("REVISE_FUNCTIONAL_SPEC"))
	assert.Equal(t, ReviseTestPlanTarget, ParseRevisionTarget("revise_test_plan"))
	assert.Equal(t, ReviseSmallTalk, ParseRevisionTarget("SMALL_TALK"))
	assert.Equal(t, ReviseUnknown, ParseRevisionTarget("DEFINITION"))
	assert.Equal(t, ReviseUnknown, ParseRevisionTarget(""))
}

func TestProjectNameFromIdea(t *testing.T) {
	assert.Equal(t, "Build-a-todo-app", projectNameFromIdea("Build a todo app with reminders"))
	assert.Equal(t, "todo", projectNameFromIdea("todo!"))
	assert.Equal(t, "agent-project", projectNameFromIdea("!!!"))
	assert.Equal(t, "agent-project", projectNameFromIdea(""))
}
