package main

// Numeric replies we send. Kept as their three-digit wire form since
// that is what ends up in the command position of the line.
const (
	rplWelcome       = "001"
	rplYourHost      = "002"
	rplCreated       = "003"
	rplMyInfo        = "004"
	rplISupport      = "005"
	rplLuserClient   = "251"
	rplLuserOp       = "252"
	rplLuserUnknown  = "253"
	rplLuserChannels = "254"
	rplLuserMe       = "255"
	rplLocalUsers    = "265"
	rplGlobalUsers   = "266"
	rplAway          = "301"
	rplUserhost      = "302"
	rplUnaway        = "305"
	rplNowAway       = "306"
	rplWhoisUser     = "311"
	rplEndOfWho      = "315"
	rplEndOfWhois    = "318"
	rplWhoisChannels = "319"
	rplList          = "322"
	rplListEnd       = "323"
	rplChannelModeIs = "324"
	rplNoTopic       = "331"
	rplTopic         = "332"
	rplTopicWhoTime  = "333"
	rplWhoReply      = "352"
	rplNamReply      = "353"
	rplEndOfNames    = "366"
	rplMotd          = "372"
	rplMotdStart     = "375"
	rplEndOfMotd     = "376"

	errGeneric           = "400"
	errNoSuchNick        = "401"
	errNoSuchChannel     = "403"
	errCannotSendToChan  = "404"
	errNoRecipient       = "411"
	errNoTextToSend      = "412"
	errUnknownCommand    = "421"
	errNoMotd            = "422"
	errNoNicknameGiven   = "431"
	errErroneousNickname = "432"
	errNicknameInUse     = "433"
	errUserNotInChannel  = "441"
	errNotOnChannel      = "442"
	errNotRegistered     = "451"
	errNeedMoreParams    = "461"
	errPasswdMismatch    = "464"
	errUnknownMode       = "472"
	errBadChanMask       = "476"
	errChanOpPrivsNeeded = "482"
)
