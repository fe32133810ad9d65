package markdown_test

import (
	"strings"
	"testing"

	"harvester/internal/utils/markdown"

	"github.com/stretchr/testify/assert"
)

func TestFromHTMLStripsChrome(t *testing.T) {
	t.Parallel()

	html := `<div>
		<script>alert(1)</script>
		<div class="share-buttons"><a href="#">Tweet</a></div>
		<h2>仕事内容</h2>
		<p>配送ドライバーとして市内ルートを担当します。</p>
		<button class="apply">応募する</button>
	</div>`

	out := markdown.FromHTML(html)
	assert.Contains(t, out, "仕事内容")
	assert.Contains(t, out, "配送ドライバー")
	assert.NotContains(t, out, "alert")
	assert.NotContains(t, out, "Tweet")
	assert.NotContains(t, out, "応募する")
}

func TestFromHTMLDropsRepeatedLongLines(t *testing.T) {
	t.Parallel()

	html := `<div>
		<p>月給250,000円〜350,000円（経験による）</p>
		<p>勤務地は東京都千代田区です。</p>
		<p>月給250,000円〜350,000円（経験による）</p>
	</div>`

	out := markdown.FromHTML(html)
	assert.Equal(t, 1, strings.Count(out, "月給250,000円"))
	assert.Contains(t, out, "千代田区")
}

func TestFromHTMLImageOnlyLinesRemoved(t *testing.T) {
	t.Parallel()

	out := markdown.FromHTML(`<div><p><img src="https://cdn.example.com/logo.png" alt="logo"></p><p>本文</p></div>`)
	assert.NotContains(t, out, "logo.png")
	assert.Contains(t, out, "本文")
}
