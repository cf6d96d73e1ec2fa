package skill

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aschepis/bpmai/llm"
	"github.com/aschepis/bpmai/llm/llmtest"
)

func TestGeneric(t *testing.T) {
	fake := llmtest.NewFakeClient(llmtest.ToolResponse("store_task_result", `{"firstname": "John", "lastname": "Meier"}`))
	in := NewInput(Field{"email", "Hey ich bins, der John Meier."})

	result, err := Generic(context.Background(), fake.Model(false, false), in, "Extract the information",
		NewSchema(Field{"firstname", "the firstname"}, Field{"lastname", "the lastname"}))
	require.NoError(t, err)

	fake.AssertLastRequestContains(t, "John Meier")
	fake.AssertLastRequestContains(t, "Extract the information")
	fake.AssertLastRequestDefinedTool(t, "store_task_result", true)
	assert.Equal(t, "John", result.Get("firstname"))
	assert.Equal(t, "Meier", result.Get("lastname"))

	var system *llm.SystemMessage
	for _, m := range fake.LastRequest().Messages {
		if s, ok := m.(*llm.SystemMessage); ok {
			system = s
		}
	}
	require.NotNil(t, system, "the template declares a system turn")
}

func TestGenericValidation(t *testing.T) {
	fake := llmtest.NewFakeClient()
	model := fake.Model(false, false)
	in := NewInput(Field{"email", "x"})

	var missing *MissingParameterError
	_, err := Generic(context.Background(), model, in, "", NewSchema(Field{"a", "b"}))
	assert.ErrorAs(t, err, &missing)
	_, err = Generic(context.Background(), model, in, "Do it", nil)
	assert.ErrorAs(t, err, &missing)
	_, err = Generic(context.Background(), model, in, "Do it", NewSchema(Field{"a", 42}))
	assert.ErrorContains(t, err, "unsupported definition")
	fake.AssertNoRequest(t)
}

func TestGenericKeepsMarkerLikeInput(t *testing.T) {
	fake := llmtest.NewFakeClient(llmtest.ToolResponse("store_task_result", `{"ticket": "4521"}`))
	in := NewInput(
		Field{"email", "Customer wrote: see ticket [#4521] please"},
		Field{"notes", map[string]any{"internal": "[# note #] escalate"}},
	)

	result, err := Generic(context.Background(), fake.Model(false, false), in, "Find the ticket number",
		NewSchema(Field{"ticket", "the ticket number"}))
	require.NoError(t, err)

	fake.AssertLastRequestContains(t, "see ticket [#4521] please")
	fake.AssertLastRequestContains(t, "[# note #] escalate")
	fake.AssertLastRequestNotContains(t, "")
	assert.Equal(t, "4521", result.Get("ticket"))
}

func TestGenericAttachesImagesNextToMarkerLikeInput(t *testing.T) {
	fake := llmtest.NewFakeClient(llmtest.ToolResponse("store_task_result", `{"total": "12"}`))
	in := NewInput(Field{"invoice", "invoice.png"}, Field{"ref", "order [#77]"})

	_, err := Generic(context.Background(), fake.Model(true, false), in, "Read the total",
		NewSchema(Field{"total", "the invoice total"}))
	require.NoError(t, err)

	var attached []string
	for _, m := range fake.LastRequest().Messages {
		for _, b := range llm.Attachments(m.Body()) {
			attached = append(attached, b.Location())
		}
	}
	assert.Equal(t, []string{"invoice.png"}, attached)
	fake.AssertLastRequestContains(t, "order [#77]")
}
