package telegram

import (
	"errors"
	"fmt"
	"strings"

	"evacom/cmd/internal/verify"
)

const (
	textInternal       = "Internal error. Please try again."
	textNotLinkChat    = "Authorization is only available in the Evacom™ link chat."
	textNotMember      = "Authorization is only available to members of the Evacom™ link chat."
	textGroupHint      = "Use the panel buttons above, or message me privately: /link"
	textPanelAdminOnly = "Admin only."
	textPanelUpdated   = "Panel updated."
	textPanelWhere     = "Use /panel inside the link chat."
	textVerifyPrompt   = "EVACOM™ VERIFY\nReply to this message with your Evacom™ ID (example: B-123456)."
	textVerifyField    = "B-123456"
	textMisconfigured  = "Bot misconfigured: Authorized chat not found."
	textGrantFailed    = "Your Evacom™ ID is correct, but your status could not be updated. Please try again."
)

const panelHeader = "EVACOM AUTHORIZATION TERMINAL"

// panelBody is sent with HTML parse mode.
const panelBody = "<b>" + panelHeader + "</b>\n\n" +
	"Use this chat to link and <b>AUTHORIZE</b> your Evacom™.\n" +
	"Replies are <b>private</b>: only you can see them.\n\n" +
	"<b>STEP 1</b>: request an ACCESS KEY with the <b>LINK</b> button below\n\n" +
	"<b>STEP 2</b>: in-game, open <code>PARAMS\\SERVICES</code>, enter the code in the <b>SERVICE CONSOLE</b>, then press <b>E</b>\n" +
	"Copy your Evacom™ ID (example: <code>B-123456</code>)\n\n" +
	"<b>STEP 3</b>: press <b>VERIFY</b> and send your Evacom™ ID to the bot\n\n" +
	"If your session expires, just press <b>LINK</b> again."

const textHelp = "Evacom™ authorization\n\n" +
	"/link: get an ACCESS KEY to authorize Evacom™ in-game\n" +
	"/verify B-123456: verify your Evacom™ ID from the game"

func renderIssued(out verify.Issued) string {
	secs := int(out.ExpiresIn.Seconds())
	if out.Resumed {
		return fmt.Sprintf("ACCESS KEY: %s\n"+
			"Submit the key in the Evacom™ Service Console to receive your Evacom™ ID (example: B-123456)\n"+
			"Key expires in %ds.", out.Formatted, secs)
	}
	return fmt.Sprintf("ACCESS KEY: %s\n"+
		"Enter it in-game to receive your Evacom™ ID (example: B-123456).\n"+
		"Expires in %ds.", out.Formatted, secs)
}

func renderGranted(g verify.Grant) string {
	var b strings.Builder
	b.WriteString("Your Evacom™ successfully authorized. Community Status updated: AUTHORIZED")
	if g.Detail != "" {
		b.WriteString("\nJoin here: ")
		b.WriteString(g.Detail)
	}
	return b.String()
}

// renderError maps a Link/Verify error to the text shown to the user.
func renderError(err error) string {
	var te verify.ThrottleError
	if errors.As(err, &te) {
		return fmt.Sprintf("Please wait %ds and try again.", te.Seconds())
	}
	var ae verify.AttemptError
	if errors.As(err, &ae) {
		if errors.Is(ae.Err, verify.ErrInvalidFormat) {
			return "Invalid format. Expected like B-123456."
		}
		return fmt.Sprintf("Wrong Evacom™ ID. Check digits and try again. Attempts left: %d.", ae.Remaining)
	}

	switch {
	case errors.Is(err, verify.ErrAlreadyAuthorized):
		return "Evacom™ status: already authorized."
	case errors.Is(err, verify.ErrNoSession):
		return "No active session. Use /link first."
	case errors.Is(err, verify.ErrSessionExpired):
		return "Session expired. Use /link to get a new ACCESS KEY."
	case errors.Is(err, verify.ErrAttemptsExhausted):
		return "Too many attempts. Use /link to start again."
	case errors.Is(err, verify.ErrGrantInProgress):
		return "Verification already in progress. Please wait."
	case errors.Is(err, verify.ErrMisconfigured):
		return textMisconfigured
	case errors.Is(err, verify.ErrGrantFailed):
		return textGrantFailed
	}
	return textInternal
}
