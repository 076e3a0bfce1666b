package render

import (
	"encoding/csv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const specJSON = `{
	"epics": [
		{"name": "Task Management", "features": ["Create a task", "Complete a task"]},
		{"name": "Search", "features": ["Search tasks by name"]}
	],
	"entities": [
		{"name": "Task", "properties": ["title", "done"], "relationships": [{"type": "belongs_to", "target": "List"}]}
	]
}`

const planJSON = `{
	"name": "Test Plan",
	"test_cases": {
		"Task Management": [
			{"name": "test_create_task", "description": "Creating a task stores it."}
		],
		"Search": [
			{"name": "test_search_by_name", "description": "Search returns matching tasks."}
		]
	}
}`

const reviewJSON = `{
	"review_feedback": "The spec covers the core flows well.",
	"actionable_suggestions_message_presentation": "Here are some suggestions to improve your project:",
	"actionable_suggestions": ["Add due dates to tasks", "Add a test for empty search"]
}`

func TestSpecMarkdown(t *testing.T) {
	md, ok := SpecMarkdown(specJSON)
	require.True(t, ok)
	assert.Contains(t, md, "### Product Backlog")
	assert.Contains(t, md, "#### Epic: Task Management")
	assert.Contains(t, md, "- Create a task")
	assert.Contains(t, md, "#### Epic: Search")
	assert.Contains(t, md, "### Data Model")
	assert.Contains(t, md, "#### Entity: Task")
	assert.Contains(t, md, "- belongs_to List")
}

func TestSpecMarkdownInvalidJSON(t *testing.T) {
	md, ok := SpecMarkdown("not json at all")
	assert.False(t, ok)
	assert.Contains(t, md, "not json at all")
	assert.Contains(t, md, "```")
}

func TestTestPlanMarkdown(t *testing.T) {
	md, ok := TestPlanMarkdown(planJSON)
	require.True(t, ok)
	assert.Contains(t, md, "### Test Plan")
	assert.Contains(t, md, "#### Test Suite: Task Management")
	assert.Contains(t, md, "#### Test Suite: Search")
	assert.Contains(t, md, "`test_create_task`: Creating a task stores it.")
	assert.Contains(t, md, "`test_search_by_name`")

	// Section order follows the JSON key order.
	assert.Less(t, strings.Index(md, "Task Management"), strings.Index(md, "Search"))
}

func TestTestPlanMarkdownLegacyFlatList(t *testing.T) {
	md, ok := TestPlanMarkdown(`{"name": "Test Plan", "test_cases": ["test_one", "test_two"]}`)
	require.True(t, ok)
	assert.Contains(t, md, "#### Test Suite: Test Cases")
	assert.Contains(t, md, "`test_one`")
	assert.Contains(t, md, "`test_two`")
}

func TestReviewMarkdown(t *testing.T) {
	md, ok := ReviewMarkdown(reviewJSON)
	require.True(t, ok)
	assert.Contains(t, md, "The spec covers the core flows well.")
	assert.Contains(t, md, "Here are some suggestions to improve your project:")
}

func TestSuggestionActions(t *testing.T) {
	actions := SuggestionActions(reviewJSON)
	require.Len(t, actions, 2)
	assert.Equal(t, "apply_suggestion_0", actions[0].Name)
	assert.Equal(t, "Add due dates to tasks", actions[0].Label)
	assert.Equal(t, "apply_suggestion_1", actions[1].Name)

	assert.Nil(t, SuggestionActions("not json"))
	assert.Nil(t, SuggestionActions(`{"review_feedback": "fine"}`))
}

func TestSuggestionActionsCappedAtFive(t *testing.T) {
	overfull := `{"actionable_suggestions":["a","b","c","d","e","f","g"]}`
	actions := SuggestionActions(overfull)
	require.Len(t, actions, 5)
	assert.Equal(t, "apply_suggestion_4", actions[4].Name)
	assert.Equal(t, "e", actions[4].Label)
}

func TestTestPlanCSV(t *testing.T) {
	records, err := csv.NewReader(strings.NewReader(string(TestPlanCSV(planJSON)))).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, []string{"Work Item Type", "Title", "Test Step", "Step Action", "Step Expected"}, records[0])
	assert.Equal(t, "Test Case", records[1][0])
	assert.Equal(t, "test_create_task", records[1][1])
	assert.Equal(t, "test_search_by_name", records[2][1])
}

func TestTestPlanCSVInvalidJSON(t *testing.T) {
	records, err := csv.NewReader(strings.NewReader(string(TestPlanCSV("{broken")))).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "Error", records[1][0])
}
