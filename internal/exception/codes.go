package exception

import "sort"

type Code string

const (
	CodeWalletConnectionFailed  Code = "WALLET_CONNECTION_FAILED"
	CodeWalletImportFailed      Code = "WALLET_IMPORT_FAILED"
	CodeWalletInsufficientFunds Code = "WALLET_INSUFFICIENT_FUNDS"
	CodeWalletTransactionFailed Code = "WALLET_TRANSACTION_FAILED"
	CodeWalletInvalidAddress    Code = "WALLET_INVALID_ADDRESS"
	CodeWalletSignatureFailed   Code = "WALLET_SIGNATURE_FAILED"
	CodeWalletNotFound          Code = "WALLET_NOT_FOUND"

	CodeTwitterAuthFailed        Code = "TWITTER_AUTH_FAILED"
	CodeTwitterRateLimitExceeded Code = "TWITTER_RATE_LIMIT_EXCEEDED"
	CodeTwitterAccountSuspended  Code = "TWITTER_ACCOUNT_SUSPENDED"
	CodeTwitterAccountNotFound   Code = "TWITTER_ACCOUNT_NOT_FOUND"
	CodeTwitterPostFailed        Code = "TWITTER_POST_FAILED"
	CodeTwitterFollowFailed      Code = "TWITTER_FOLLOW_FAILED"
	CodeTwitterLikeFailed        Code = "TWITTER_LIKE_FAILED"
	CodeTwitterRetweetFailed     Code = "TWITTER_RETWEET_FAILED"

	CodeDiscordAuthFailed        Code = "DISCORD_AUTH_FAILED"
	CodeDiscordRateLimitExceeded Code = "DISCORD_RATE_LIMIT_EXCEEDED"
	CodeDiscordAccountSuspended  Code = "DISCORD_ACCOUNT_SUSPENDED"
	CodeDiscordAccountNotFound   Code = "DISCORD_ACCOUNT_NOT_FOUND"
	CodeDiscordMessageFailed     Code = "DISCORD_MESSAGE_FAILED"
	CodeDiscordJoinServerFailed  Code = "DISCORD_JOIN_SERVER_FAILED"
	CodeDiscordReactionFailed    Code = "DISCORD_REACTION_FAILED"

	CodeEmailSendFailed         Code = "EMAIL_SEND_FAILED"
	CodeEmailReceiveFailed      Code = "EMAIL_RECEIVE_FAILED"
	CodeEmailVerificationFailed Code = "EMAIL_VERIFICATION_FAILED"
	CodeEmailNotFound           Code = "EMAIL_NOT_FOUND"
	CodeEmailAuthFailed         Code = "EMAIL_AUTH_FAILED"
	CodeEmailInvalidFormat      Code = "EMAIL_INVALID_FORMAT"
	CodeEmailInboxFull          Code = "EMAIL_INBOX_FULL"

	CodeIPBlocked             Code = "IP_BLOCKED"
	CodeIPRateLimited         Code = "IP_RATE_LIMITED"
	CodeProxyConnectionFailed Code = "PROXY_CONNECTION_FAILED"
	CodeProxyAuthFailed       Code = "PROXY_AUTH_FAILED"
	CodeProxyInvalid          Code = "PROXY_INVALID"
	CodeIPGeoRestricted       Code = "IP_GEO_RESTRICTED"
	CodeProxyNotFound         Code = "PROXY_NOT_FOUND"

	CodeExecutionFailed  Code = "EXECUTION_FAILED"
	CodeTimeout          Code = "TIMEOUT"
	CodeInvalidParameter Code = "INVALID_PARAMETER"
	CodeResourceNotFound Code = "RESOURCE_NOT_FOUND"
	CodeResourceBusy     Code = "RESOURCE_BUSY"
	CodePermissionDenied Code = "PERMISSION_DENIED"
	CodePageLoadFailed   Code = "PAGE_LOAD_FAILED"
)

type codeDef struct {
	family  Family
	message string
}

var codeTable = map[Code]codeDef{
	CodeWalletConnectionFailed:  {FamilyWallet, "wallet connection failed"},
	CodeWalletImportFailed:      {FamilyWallet, "wallet import failed"},
	CodeWalletInsufficientFunds: {FamilyWallet, "insufficient funds"},
	CodeWalletTransactionFailed: {FamilyWallet, "transaction failed"},
	CodeWalletInvalidAddress:    {FamilyWallet, "invalid wallet address"},
	CodeWalletSignatureFailed:   {FamilyWallet, "signature failed"},
	CodeWalletNotFound:          {FamilyWallet, "wallet not found"},

	CodeTwitterAuthFailed:        {FamilyTwitter, "twitter authentication failed"},
	CodeTwitterRateLimitExceeded: {FamilyTwitter, "twitter rate limit exceeded"},
	CodeTwitterAccountSuspended:  {FamilyTwitter, "twitter account suspended"},
	CodeTwitterAccountNotFound:   {FamilyTwitter, "twitter account not found"},
	CodeTwitterPostFailed:        {FamilyTwitter, "twitter post failed"},
	CodeTwitterFollowFailed:      {FamilyTwitter, "twitter follow failed"},
	CodeTwitterLikeFailed:        {FamilyTwitter, "twitter like failed"},
	CodeTwitterRetweetFailed:     {FamilyTwitter, "twitter retweet failed"},

	CodeDiscordAuthFailed:        {FamilyDiscord, "discord authentication failed"},
	CodeDiscordRateLimitExceeded: {FamilyDiscord, "discord rate limit exceeded"},
	CodeDiscordAccountSuspended:  {FamilyDiscord, "discord account suspended"},
	CodeDiscordAccountNotFound:   {FamilyDiscord, "discord account not found"},
	CodeDiscordMessageFailed:     {FamilyDiscord, "discord message failed"},
	CodeDiscordJoinServerFailed:  {FamilyDiscord, "discord join server failed"},
	CodeDiscordReactionFailed:    {FamilyDiscord, "discord reaction failed"},

	CodeEmailSendFailed:         {FamilyEmail, "email send failed"},
	CodeEmailReceiveFailed:      {FamilyEmail, "email receive failed"},
	CodeEmailVerificationFailed: {FamilyEmail, "email verification failed"},
	CodeEmailNotFound:           {FamilyEmail, "email not found"},
	CodeEmailAuthFailed:         {FamilyEmail, "email authentication failed"},
	CodeEmailInvalidFormat:      {FamilyEmail, "invalid email format"},
	CodeEmailInboxFull:          {FamilyEmail, "email inbox full"},

	CodeIPBlocked:             {FamilyProxy, "ip blocked"},
	CodeIPRateLimited:         {FamilyProxy, "ip rate limited"},
	CodeProxyConnectionFailed: {FamilyProxy, "proxy connection failed"},
	CodeProxyAuthFailed:       {FamilyProxy, "proxy authentication failed"},
	CodeProxyInvalid:          {FamilyProxy, "invalid proxy"},
	CodeIPGeoRestricted:       {FamilyProxy, "ip geo restricted"},
	CodeProxyNotFound:         {FamilyProxy, "proxy not found"},

	CodeExecutionFailed:  {FamilyGeneral, "execution failed"},
	CodeTimeout:          {FamilyGeneral, "operation timed out"},
	CodeInvalidParameter: {FamilyGeneral, "invalid parameter"},
	CodeResourceNotFound: {FamilyGeneral, "resource not found"},
	CodeResourceBusy:     {FamilyGeneral, "resource busy"},
	CodePermissionDenied: {FamilyGeneral, "permission denied"},
	CodePageLoadFailed:   {FamilyGeneral, "page load failed"},
}

func IsKnown(code Code) bool {
	_, ok := codeTable[code]
	return ok
}

// KnownCodes returns the closed code set, sorted.
func KnownCodes() []Code {
	out := make([]Code, 0, len(codeTable))
	for c := range codeTable {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func FamilyOf(code Code) (Family, bool) {
	def, ok := codeTable[code]
	return def.family, ok
}
