package extractor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtract_BotMentionWins(t *testing.T) {
	email := Email{
		HTMLBody: `<html><body>
			<p>Someone commented on your file.</p>
			<td>@Figbot fix the header and update the footer</td>
			<a href="https://www.figma.com/file/AbCdEf12345678/Homepage?node-id=1#comment-987">View comment</a>
		</body></html>`,
		Sender:  `Figma Comments <comments@figma.com>`,
		Subject: `New comment on “Homepage redesign”`,
	}

	got, err := Extract(email, "Figbot")
	require.NoError(t, err)

	assert.Equal(t, "@Figbot fix the header and update the footer", got.CommentText)
	assert.Equal(t, "AbCdEf12345678", got.FileKey)
	assert.Equal(t, "987", got.CommentID)
	assert.Equal(t, "Homepage redesign", got.FileName)
	assert.Equal(t, "comments@figma.com", got.AuthorEmail)
	assert.Equal(t, "Figma Comments", got.AuthorName)
	assert.Equal(t, "bot_mention", got.Metadata["extraction_strategy"])
	assert.Contains(t, got.SourceURL, "figma.com/file/AbCdEf12345678")
}

func TestExtract_TableCellFallback(t *testing.T) {
	email := Email{
		HTMLBody: `<html><body><table>
			<tr><td>Unsubscribe from these notifications</td></tr>
			<tr><td>@dana please review the new palette</td></tr>
		</table>
		<a href="https://figma.com/design/XyZ123456789abcd/Palette">open</a>
		</body></html>`,
		Sender: "notify@figma.com",
	}

	got, err := Extract(email, "")
	require.NoError(t, err)
	assert.Equal(t, "@dana please review the new palette", got.CommentText)
	assert.Equal(t, "table_cell", got.Metadata["extraction_strategy"])
}

func TestExtract_IgnoresCSSPseudoMentions(t *testing.T) {
	email := Email{
		HTMLBody: `<html><head><style>@media screen { body { color: red } }</style></head>
		<body><table><tr><td>@media only would be wrong</td></tr>
		<tr><td>@sam the login button overlaps the nav</td></tr></table>
		<a href="https://figma.com/file/Login9876543210ab/Login">link</a>
		</body></html>`,
		Sender: "notify@figma.com",
	}

	got, err := Extract(email, "")
	require.NoError(t, err)
	assert.Contains(t, got.CommentText, "@sam")
}

func TestExtract_FileKeyFromSenderLocalPart(t *testing.T) {
	email := Email{
		HTMLBody: `<html><body><p>@lee adjust spacing on the hero section please</p></body></html>`,
		Sender:   "comments-AbCd1234EfGh5678Ij@mail.figma.com",
	}

	got, err := Extract(email, "")
	require.NoError(t, err)
	assert.Equal(t, "AbCd1234EfGh5678Ij", got.FileKey)
}

func TestExtract_FileKeyFromRedirectLink(t *testing.T) {
	email := Email{
		HTMLBody: `<html><body>
			<p>@mia the icon set needs dark-mode variants</p>
			<a href="https://click.mailer.example/track?url=https%3A%2F%2Fwww.figma.com%2Ffile%2FRedirKey123456ab%2FIcons">view</a>
		</body></html>`,
		Sender: "notify@figma.com",
	}

	got, err := Extract(email, "")
	require.NoError(t, err)
	assert.Equal(t, "RedirKey123456ab", got.FileKey)
}

func TestExtract_FailsWithoutCommentText(t *testing.T) {
	email := Email{
		HTMLBody: `<html><body><p>Unsubscribe | Privacy Policy | © 2025</p></body></html>`,
		Sender:   "notify@figma.com",
	}
	_, err := Extract(email, "Figbot")
	assert.ErrorContains(t, err, "no comment text")
}

func TestExtract_FailsWithoutFileKey(t *testing.T) {
	email := Email{
		HTMLBody: `<html><body><p>@ana this layout breaks on mobile widths</p></body></html>`,
		Sender:   "notify@figma.com",
	}
	_, err := Extract(email, "")
	assert.ErrorContains(t, err, "no file key")
}

func TestExtract_LongestParagraphFallback(t *testing.T) {
	email := Email{
		HTMLBody: `<html><body>
			<p>Hi,</p>
			<p>The checkout flow drops the coupon field after step two, can we restore it before launch?</p>
			<p>You are receiving this because you follow the file.</p>
			<a href="https://figma.com/file/Checkout12345678/Checkout">open</a>
		</body></html>`,
		Sender: "notify@figma.com",
	}

	got, err := Extract(email, "")
	require.NoError(t, err)
	assert.Contains(t, got.CommentText, "checkout flow")
	assert.Equal(t, "longest_paragraph", got.Metadata["extraction_strategy"])
}

func TestNormalizeWhitespace(t *testing.T) {
	assert.Equal(t, "a b c", normalizeWhitespace("  a\n\tb   c  "))
	assert.Empty(t, normalizeWhitespace(" \n\t "))
}

func TestFileNameFromSubject(t *testing.T) {
	assert.Equal(t, "Homepage", fileNameFromSubject(`New comment on "Homepage"`))
	assert.Equal(t, "Homepage", fileNameFromSubject("Re: Homepage"))
}
