package prompt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aschepis/bpmai/llm"
)

func TestToJSONDoesNotEscapeHTML(t *testing.T) {
	out, err := ToJSON(map[string]any{"b": "<tag>", "a": 1})
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"a\": 1,\n  \"b\": \"<tag>\"\n}", out)
}

func TestToMarkdownSortsPlainMaps(t *testing.T) {
	out := ToMarkdown(map[string]any{
		"name": "Ada",
		"tags": []string{"math", "engines"},
		"job": map[string]any{
			"title": "Analyst",
			"team":  map[string]string{"lead": "Babbage"},
		},
	})
	assert.Equal(t, `name: Ada
tags:
- math
- engines
## job
title: Analyst
### team
lead: Babbage`, out)
}

func TestToMarkdownScalar(t *testing.T) {
	assert.Equal(t, "plain", ToMarkdown("plain"))
}

func TestToXMLRepeatsListElements(t *testing.T) {
	out, err := ToXML(map[string]any{
		"item": []any{"a", "b"},
		"note": "x < y",
	}, "root")
	require.NoError(t, err)
	assert.Equal(t, "<root>\n\t<item>a</item>\n\t<item>b</item>\n\t<note>x &lt; y</note>\n</root>", out)
}

func TestXMLFilterDefaultsRoot(t *testing.T) {
	messages, err := FromString(`{{ data|xml }}`, map[string]any{"data": map[string]any{"k": "v"}}).Format("")
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, llm.Text("<root>\n\t<k>v</k>\n</root>"), messages[0].Body())
}
