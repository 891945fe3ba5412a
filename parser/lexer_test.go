package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func kinds(toks []Token) []TokenKind {
	out := make([]TokenKind, len(toks))
	for i, tok := range toks {
		out[i] = tok.Kind
	}
	return out
}

func TestTokenizeStatement(t *testing.T) {
	toks, err := Tokenize("x = get process FROM udi://edr where [process:name = 'a]b'] START t'2021-01-01T00:00:00Z'")
	require.NoError(t, err)

	assert.Equal(t, []TokenKind{
		TokenWord, TokenEquals, TokenWord, TokenWord, TokenWord, TokenWord, TokenWord,
		TokenBracket, TokenWord, TokenTimestamp, TokenEOF,
	}, kinds(toks))

	assert.Equal(t, "GET", toks[2].Keyword)
	assert.Equal(t, "get", toks[2].Text)
	assert.Empty(t, toks[3].Keyword)
	assert.Equal(t, "udi://edr", toks[5].Text)
	assert.Equal(t, "[process:name = 'a]b']", toks[7].Text)
	assert.Equal(t, "2021-01-01T00:00:00Z", toks[9].Value)
	assert.Equal(t, "t'2021-01-01T00:00:00Z'", toks[9].Text)
}

func TestTokenizeStrings(t *testing.T) {
	toks, err := Tokenize(`"udi://My QRadar" 'it\'s' "a\tb"`)
	require.NoError(t, err)
	require.Len(t, toks, 4)

	assert.Equal(t, "udi://My QRadar", toks[0].Value)
	assert.Equal(t, "it's", toks[1].Value)
	assert.Equal(t, "a\tb", toks[2].Value)
}

func TestTokenizeNestedBrackets(t *testing.T) {
	toks, err := Tokenize(`[{"tags": ["a", "b]"]}, {"tags": []}] disp`)
	require.NoError(t, err)

	assert.Equal(t, TokenBracket, toks[0].Kind)
	assert.Equal(t, `[{"tags": ["a", "b]"]}, {"tags": []}]`, toks[0].Text)
	assert.Equal(t, "DISP", toks[1].Keyword)
}

func TestTokenizeComments(t *testing.T) {
	toks, err := Tokenize("# header\ndisp x # trailing\n# done")
	require.NoError(t, err)

	assert.Equal(t, []TokenKind{TokenWord, TokenWord, TokenEOF}, kinds(toks))
	assert.Equal(t, 2, toks[0].Pos.Line)
	assert.Equal(t, 5, toks[1].Pos.Character)
}

func TestTokenizePunctuation(t *testing.T) {
	toks, err := Tokenize("a+b,c=max(d)")
	require.NoError(t, err)

	assert.Equal(t, []TokenKind{
		TokenWord, TokenPlus, TokenWord, TokenComma, TokenWord, TokenEquals,
		TokenWord, TokenLParen, TokenWord, TokenRParen, TokenEOF,
	}, kinds(toks))
}

func TestTokenizeErrors(t *testing.T) {
	tests := []struct {
		name     string
		src      string
		contains string
	}{
		{"stray close bracket", "x ]", "unbalanced ']'"},
		{"quote inside bracket", "[a = 'b]", "unterminated string inside"},
		{"open bracket", "[a = 1", "missing ']'"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Tokenize(tt.src)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.contains)
		})
	}
}
