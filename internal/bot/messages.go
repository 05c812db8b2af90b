package bot

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Klingon-tech/klingnet-bot/internal/account"
	"github.com/Klingon-tech/klingnet-bot/internal/chain"
	"github.com/Klingon-tech/klingnet-bot/internal/wallet"
)

// Callback data understood by the transport.
const (
	CallbackCancel    = "cancel"
	CallbackWithdraw  = "withdraw"
	CallbackBuyPrefix = "buy_"
)

const (
	msgNewWallet      = "✅ *New Wallet Created:* \n`%s`"
	msgYourWallet     = "💰 *Your ETH Wallet:* \n`%s`"
	msgBalance        = "💰 *Your Balance:* %s ETH"
	msgNoWallet       = "⚠️ No wallet found! Use /start to create one."
	msgTradeUsage     = "⚠️ Usage: /trade <token>"
	msgTokenNotFound  = "⚠️ Contract not found!"
	msgToken          = "📊 *Token:* %s\n💲 *Price:* $%s\n🔗 *Contract:* `%s`"
	msgBuyUsage       = "⚠️ Buy request is malformed."
	msgTxSent         = "✅ *Transaction Sent:* `%s`"
	msgWithdrawPrompt = "🔹 Reply with your Ethereum address to withdraw.\nYour next message is read as the address; press Cancel to abort."
	msgWithdrawn      = "✅ *Withdrawn!* %s ETH\nTX: `%s`"
	msgNothingToSend  = "⚠️ Nothing to withdraw: your balance is 0 ETH."
	msgCancelled      = "❌ Cancelled."
	msgNothingPending = "Nothing to cancel."
	msgUnknown        = "🤔 I didn't get that. Send /help for the list of commands."

	msgInvalidAddress = "⚠️ Invalid Ethereum address!"
	msgInvalidAmount  = "⚠️ Invalid amount! Use a positive ETH amount with at most 18 decimals."
	msgRejected       = "❌ *Transaction Failed:* the network rejected it"
	msgUnavailable    = "⚠️ The Ethereum node could not be reached. The transaction may not have been sent; check /balance before trying again."
	msgNodeDown       = "⚠️ The Ethereum node could not be reached. Please try again later."
	msgInternal       = "⚠️ Something went wrong on our side. Please try again later."

	msgHelp = "ℹ️ *Available Commands:*\n" +
		"/start - Create or retrieve wallet\n" +
		"/balance - Check ETH balance\n" +
		"/trade <token> - Fetch contract & buy options\n" +
		"/withdraw - Withdraw ETH to an external wallet\n" +
		"/help - Show this help menu"
)

// failure maps an error to the reply the user sees. write tells whether
// the failing call could have broadcast a transaction.
func failure(err error, write bool) *Result {
	switch {
	case errors.Is(err, account.ErrNotFound):
		return replyError(msgNoWallet)
	case errors.Is(err, wallet.ErrInvalidAddress):
		return replyError(msgInvalidAddress)
	case errors.Is(err, wallet.ErrInvalidAmount):
		return replyError(msgInvalidAmount)
	case errors.Is(err, chain.ErrRejected):
		msg := msgRejected
		if reason := chain.Reason(err); reason != "" {
			msg += ": " + escapeMarkdown(reason)
		}
		return replyError(msg)
	case errors.Is(err, chain.ErrGatewayUnavailable):
		if write {
			return replyError(msgUnavailable)
		}
		return replyError(msgNodeDown)
	default:
		return replyError(msgInternal)
	}
}

var markdownEscaper = strings.NewReplacer("_", "\\_", "*", "\\*", "`", "\\`", "[", "\\[")

// escapeMarkdown escapes text for Telegram's legacy Markdown mode.
func escapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}

func buyButton(amount, contract string) Button {
	return Button{
		Text: fmt.Sprintf("💰 Buy %s ETH", amount),
		Data: CallbackBuyPrefix + amount + "_" + contract,
	}
}

func withdrawButton() Button {
	return Button{Text: "📤 Withdraw", Data: CallbackWithdraw}
}

func cancelButton() Button {
	return Button{Text: "❌ Cancel", Data: CallbackCancel}
}
