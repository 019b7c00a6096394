package transcode

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimateTokensEmpty(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
}

func TestEstimateTokensCountsCJKPerCharacter(t *testing.T) {
	assert.Equal(t, 4, EstimateTokens("你好世界"))
}

func TestEstimateTokensWordsForPlainText(t *testing.T) {
	assert.Equal(t, 3, EstimateTokens("hello there friend"))
}

func TestEstimateTokensStructuredTextUsesCharHeuristic(t *testing.T) {
	text := `{"key": "value"}`
	got := EstimateTokens(text)
	assert.Equal(t, int(float64(len(text))/3.5), got)
}

func TestEstimateTokensMixedCJKAndWords(t *testing.T) {
	got := EstimateTokens("你好 hello world")
	assert.Equal(t, 2+2, got)
}

func TestPreEstimateCl100kNonNegative(t *testing.T) {
	assert.GreaterOrEqual(t, PreEstimateCl100k("the quick brown fox"), 0)
}
