package exception

func WalletConnectionFailed() *Error  { return New(CodeWalletConnectionFailed) }
func WalletImportFailed() *Error      { return New(CodeWalletImportFailed) }
func WalletInsufficientFunds() *Error { return New(CodeWalletInsufficientFunds) }
func WalletTransactionFailed() *Error { return New(CodeWalletTransactionFailed) }
func WalletInvalidAddress() *Error    { return New(CodeWalletInvalidAddress) }
func WalletSignatureFailed() *Error   { return New(CodeWalletSignatureFailed) }
func WalletNotFound() *Error          { return New(CodeWalletNotFound) }

func TwitterAuthFailed() *Error        { return New(CodeTwitterAuthFailed) }
func TwitterRateLimitExceeded() *Error { return New(CodeTwitterRateLimitExceeded) }
func TwitterAccountSuspended() *Error  { return New(CodeTwitterAccountSuspended) }
func TwitterAccountNotFound() *Error   { return New(CodeTwitterAccountNotFound) }
func TwitterPostFailed() *Error        { return New(CodeTwitterPostFailed) }
func TwitterFollowFailed() *Error      { return New(CodeTwitterFollowFailed) }
func TwitterLikeFailed() *Error        { return New(CodeTwitterLikeFailed) }
func TwitterRetweetFailed() *Error     { return New(CodeTwitterRetweetFailed) }

func DiscordAuthFailed() *Error        { return New(CodeDiscordAuthFailed) }
func DiscordRateLimitExceeded() *Error { return New(CodeDiscordRateLimitExceeded) }
func DiscordAccountSuspended() *Error  { return New(CodeDiscordAccountSuspended) }
func DiscordAccountNotFound() *Error   { return New(CodeDiscordAccountNotFound) }
func DiscordMessageFailed() *Error     { return New(CodeDiscordMessageFailed) }
func DiscordJoinServerFailed() *Error  { return New(CodeDiscordJoinServerFailed) }
func DiscordReactionFailed() *Error    { return New(CodeDiscordReactionFailed) }

func EmailSendFailed() *Error         { return New(CodeEmailSendFailed) }
func EmailReceiveFailed() *Error      { return New(CodeEmailReceiveFailed) }
func EmailVerificationFailed() *Error { return New(CodeEmailVerificationFailed) }
func EmailNotFound() *Error           { return New(CodeEmailNotFound) }
func EmailAuthFailed() *Error         { return New(CodeEmailAuthFailed) }
func EmailInvalidFormat() *Error      { return New(CodeEmailInvalidFormat) }
func EmailInboxFull() *Error          { return New(CodeEmailInboxFull) }

func IPBlocked() *Error             { return New(CodeIPBlocked) }
func IPRateLimited() *Error         { return New(CodeIPRateLimited) }
func ProxyConnectionFailed() *Error { return New(CodeProxyConnectionFailed) }
func ProxyAuthFailed() *Error       { return New(CodeProxyAuthFailed) }
func ProxyInvalid() *Error          { return New(CodeProxyInvalid) }
func IPGeoRestricted() *Error       { return New(CodeIPGeoRestricted) }
func ProxyNotFound() *Error         { return New(CodeProxyNotFound) }

func ExecutionFailed() *Error  { return New(CodeExecutionFailed) }
func Timeout() *Error          { return New(CodeTimeout) }
func InvalidParameter() *Error { return New(CodeInvalidParameter) }
func ResourceNotFound() *Error { return New(CodeResourceNotFound) }
func ResourceBusy() *Error     { return New(CodeResourceBusy) }
func PermissionDenied() *Error { return New(CodePermissionDenied) }
func PageLoadFailed() *Error   { return New(CodePageLoadFailed) }
