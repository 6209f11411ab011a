package platform

// Platform DOM selectors.
// These are isolated here because the sites change their DOM frequently.
// Update these (or override them from platforms.yaml) when a flow breaks.

// X / Twitter
const (
	TwitterFeedContainer = `[data-testid="primaryColumn"]`
	TwitterHomeIndicator = `[data-testid="SideNav_NewTweet_Button"]`
	TwitterAccountMenu   = `[data-testid="SideNav_AccountSwitcher_Button"]`
	TwitterLoginForm     = `[data-testid="loginButton"]`

	TwitterComposeInline = `[data-testid="tweetTextarea_0"]`
	TwitterComposeLink   = `a[href="/compose/post"]`
	TwitterPostButton    = `[data-testid="tweetButton"]`
	TwitterPostInline    = `[data-testid="tweetButtonInline"]`
	TwitterToast         = `[data-testid="toast"]`
	TwitterComposeModal  = `[aria-labelledby="modal-header"]`
	TwitterFileInput     = `input[data-testid="fileInput"]`
)

// Facebook
const (
	FacebookFeed        = `[role="feed"]`
	FacebookCreatePost  = `[aria-label="Create a post"]`
	FacebookNavigation  = `[role="navigation"]`
	FacebookDialog      = `div[role="dialog"]`
	FacebookTextbox     = `div[role="dialog"] [contenteditable="true"][role="textbox"]`
	FacebookPostButton  = `div[role="dialog"] [aria-label="Post"][role="button"]`
	FacebookFileInput   = `div[role="dialog"] input[type="file"]`
	FacebookTriggerArea = `[role="button"], span`
)

// Instagram
const (
	InstagramHome       = `svg[aria-label="Home"]`
	InstagramNewPost    = `svg[aria-label="New post"]`
	InstagramCreateLink = `a[href="#"] svg[aria-label="New post"]`
	InstagramDialog     = `div[role="dialog"]`
	InstagramFileInput  = `input[type="file"]`
	InstagramCaption    = `div[aria-label="Write a caption..."]`
	InstagramShared     = `img[alt="Animated checkmark"]`
)
