package main

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/perch-irc/perch/irc"
)

// A decoded client command. The session state machine switches over the
// concrete type.
type command interface {
	commandName() string
}

type nickCommand struct{ nick string }
type userCommand struct{ username, realname string }
type passCommand struct{ password string }
type pingCommand struct{ token string }
type pongCommand struct{ token string }
type joinCommand struct{ channels []string }
type namesCommand struct{ channels []string }
type partCommand struct{ channels []string }
type topicCommand struct {
	channel string
	content string
	set     bool
}
type modeCommand struct {
	channel string
	change  string
	param   string
}
type privmsgCommand struct{ target, content string }
type noticeCommand struct{ target, content string }
type listCommand struct {
	channels []string
	options  []listOption
}
type userhostCommand struct{ nicks []string }
type whoisCommand struct{ nick string }
type whoCommand struct{ mask string }
type motdCommand struct{}
type lusersCommand struct{}
type awayCommand struct{ message string }
type quitCommand struct{ reason string }
type capCommand struct{}
type unknownCommand struct{ command string }

func (nickCommand) commandName() string     { return "NICK" }
func (userCommand) commandName() string     { return "USER" }
func (passCommand) commandName() string     { return "PASS" }
func (pingCommand) commandName() string     { return "PING" }
func (pongCommand) commandName() string     { return "PONG" }
func (joinCommand) commandName() string     { return "JOIN" }
func (namesCommand) commandName() string    { return "NAMES" }
func (partCommand) commandName() string     { return "PART" }
func (topicCommand) commandName() string    { return "TOPIC" }
func (modeCommand) commandName() string     { return "MODE" }
func (privmsgCommand) commandName() string  { return "PRIVMSG" }
func (noticeCommand) commandName() string   { return "NOTICE" }
func (listCommand) commandName() string     { return "LIST" }
func (userhostCommand) commandName() string { return "USERHOST" }
func (whoisCommand) commandName() string    { return "WHOIS" }
func (whoCommand) commandName() string      { return "WHO" }
func (motdCommand) commandName() string     { return "MOTD" }
func (lusersCommand) commandName() string   { return "LUSERS" }
func (awayCommand) commandName() string     { return "AWAY" }
func (quitCommand) commandName() string     { return "QUIT" }
func (capCommand) commandName() string      { return "CAP" }
func (c unknownCommand) commandName() string {
	return c.command
}

// listOption is a LIST filter triplet: a filter letter with an optional
// comparison. op is 0 when no comparison was given.
type listOption struct {
	filter byte // 'C', 'U' or 'T'
	op     byte // '<' or '>'
	n      uint64
}

// Decoding fault kinds. Each maps deterministically to a numeric reply
// (or, for silent faults, to nothing).
type faultKind int

const (
	faultCannotDecodeUTF8 faultKind = iota
	faultNotEnoughParameters
	faultCannotParseInteger
	faultNoNicknameGiven
	faultNoTextToSend
	faultNoRecipient
	faultSilent
)

// decodeError is a per-command contract violation.
type decodeError struct {
	kind    faultKind
	command string
}

func (e *decodeError) Error() string {
	switch e.kind {
	case faultCannotDecodeUTF8:
		return "cannot decode utf8"
	case faultNotEnoughParameters:
		return "not enough parameters"
	case faultCannotParseInteger:
		return "cannot parse integer"
	case faultNoNicknameGiven:
		return "no nickname given"
	case faultNoTextToSend:
		return "no text to send"
	case faultNoRecipient:
		return "no recipient given"
	default:
		return "silent error"
	}
}

func fault(kind faultKind, command string) error {
	return &decodeError{kind: kind, command: command}
}

// commandDecoders is the static dispatch table, keyed by upper-case
// command name.
var commandDecoders = map[string]func(irc.Message) (command, error){
	"NICK":     decodeNick,
	"USER":     decodeUser,
	"PASS":     decodePass,
	"PING":     decodePing,
	"PONG":     decodePong,
	"JOIN":     decodeJoin,
	"NAMES":    decodeNames,
	"PART":     decodePart,
	"TOPIC":    decodeTopic,
	"MODE":     decodeMode,
	"PRIVMSG":  decodePrivmsg,
	"NOTICE":   decodeNotice,
	"LIST":     decodeList,
	"USERHOST": decodeUserhost,
	"WHOIS":    decodeWhois,
	"WHO":      decodeWho,
	"MOTD":     decodeMotd,
	"LUSERS":   decodeLusers,
	"AWAY":     decodeAway,
	"QUIT":     decodeQuit,
	"CAP":      decodeCap,
}

// decodeCommand converts a parsed message into a typed command.
// Unknown commands are not an error; they decode to unknownCommand and
// are answered with ERR_UNKNOWNCOMMAND further up.
func decodeCommand(m irc.Message) (command, error) {
	decoder, ok := commandDecoders[strings.ToUpper(m.Command)]
	if !ok {
		return unknownCommand{command: m.Command}, nil
	}
	return decoder(m)
}

func decodeNick(m irc.Message) (command, error) {
	if len(m.Params) == 0 || m.Params[0] == "" {
		return nil, fault(faultNoNicknameGiven, "NICK")
	}
	if !utf8.ValidString(m.Params[0]) {
		return nil, fault(faultCannotDecodeUTF8, "NICK")
	}
	return nickCommand{nick: m.Params[0]}, nil
}

func decodeUser(m irc.Message) (command, error) {
	if len(m.Params) < 4 || m.Params[0] == "" || m.Params[3] == "" {
		return nil, fault(faultNotEnoughParameters, "USER")
	}
	if !utf8.ValidString(m.Params[0]) {
		return nil, fault(faultCannotDecodeUTF8, "USER")
	}
	return userCommand{username: m.Params[0], realname: m.Params[3]}, nil
}

func decodePass(m irc.Message) (command, error) {
	if len(m.Params) == 0 {
		return nil, fault(faultNotEnoughParameters, "PASS")
	}
	return passCommand{password: m.Params[0]}, nil
}

func decodePing(m irc.Message) (command, error) {
	if len(m.Params) == 0 {
		return nil, fault(faultNotEnoughParameters, "PING")
	}
	return pingCommand{token: m.Params[0]}, nil
}

func decodePong(m irc.Message) (command, error) {
	if len(m.Params) == 0 {
		return nil, fault(faultNotEnoughParameters, "PONG")
	}
	return pongCommand{token: m.Params[0]}, nil
}

// commaChannels splits a comma-separated channel list parameter.
func commaChannels(cmd, param string) ([]string, error) {
	if !utf8.ValidString(param) {
		return nil, fault(faultCannotDecodeUTF8, cmd)
	}
	var channels []string
	for _, name := range strings.Split(param, ",") {
		if name != "" {
			channels = append(channels, name)
		}
	}
	return channels, nil
}

func decodeJoin(m irc.Message) (command, error) {
	if len(m.Params) == 0 {
		return nil, fault(faultNotEnoughParameters, "JOIN")
	}
	channels, err := commaChannels("JOIN", m.Params[0])
	if err != nil {
		return nil, err
	}
	return joinCommand{channels: channels}, nil
}

func decodeNames(m irc.Message) (command, error) {
	if len(m.Params) == 0 {
		return nil, fault(faultNotEnoughParameters, "NAMES")
	}
	channels, err := commaChannels("NAMES", m.Params[0])
	if err != nil {
		return nil, err
	}
	return namesCommand{channels: channels}, nil
}

func decodePart(m irc.Message) (command, error) {
	if len(m.Params) == 0 {
		return nil, fault(faultNotEnoughParameters, "PART")
	}
	channels, err := commaChannels("PART", m.Params[0])
	if err != nil {
		return nil, err
	}
	return partCommand{channels: channels}, nil
}

func decodeTopic(m irc.Message) (command, error) {
	if len(m.Params) == 0 {
		return nil, fault(faultNotEnoughParameters, "TOPIC")
	}
	if !utf8.ValidString(m.Params[0]) {
		return nil, fault(faultCannotDecodeUTF8, "TOPIC")
	}
	cmd := topicCommand{channel: m.Params[0]}
	if len(m.Params) > 1 {
		cmd.content = m.Params[1]
		cmd.set = true
	}
	return cmd, nil
}

func decodeMode(m irc.Message) (command, error) {
	if len(m.Params) == 0 {
		return nil, fault(faultNotEnoughParameters, "MODE")
	}
	if !strings.HasPrefix(m.Params[0], "#") {
		return nil, fault(faultNoRecipient, "MODE")
	}
	cmd := modeCommand{channel: m.Params[0]}
	if len(m.Params) > 1 {
		cmd.change = m.Params[1]
	}
	if len(m.Params) > 2 {
		cmd.param = m.Params[2]
	}
	return cmd, nil
}

func decodePrivmsg(m irc.Message) (command, error) {
	if len(m.Params) == 0 {
		return nil, fault(faultNoRecipient, "PRIVMSG")
	}
	if len(m.Params) < 2 {
		return nil, fault(faultNoTextToSend, "PRIVMSG")
	}
	return privmsgCommand{target: m.Params[0], content: m.Params[1]}, nil
}

// NOTICE mirrors PRIVMSG but must never generate a reply, so every
// contract violation here is a silent fault.
func decodeNotice(m irc.Message) (command, error) {
	if len(m.Params) < 2 {
		return nil, fault(faultSilent, "NOTICE")
	}
	return noticeCommand{target: m.Params[0], content: m.Params[1]}, nil
}

func decodeList(m irc.Message) (command, error) {
	cmd := listCommand{}

	params := m.Params
	if len(params) > 0 && strings.HasPrefix(params[0], "#") {
		channels, err := commaChannels("LIST", params[0])
		if err != nil {
			return nil, err
		}
		cmd.channels = channels
		params = params[1:]
	}

	for _, param := range params {
		option, err := parseListOption(param)
		if err != nil {
			return nil, err
		}
		cmd.options = append(cmd.options, option)
	}

	return cmd, nil
}

// parseListOption parses a filter triplet <letter>[<op><number>] where
// letter is C, U or T and op is < or >.
func parseListOption(s string) (listOption, error) {
	if s == "" {
		return listOption{}, fault(faultNotEnoughParameters, "LIST")
	}

	option := listOption{filter: upperByte(s[0])}
	switch option.filter {
	case 'C', 'U', 'T':
	default:
		return listOption{}, fault(faultNotEnoughParameters, "LIST")
	}

	if len(s) == 1 {
		return option, nil
	}

	if s[1] != '<' && s[1] != '>' {
		return listOption{}, fault(faultNotEnoughParameters, "LIST")
	}
	option.op = s[1]

	n, err := strconv.ParseUint(s[2:], 10, 64)
	if err != nil {
		return listOption{}, fault(faultCannotParseInteger, "LIST")
	}
	option.n = n

	return option, nil
}

func upperByte(b byte) byte {
	if b >= 'a' && b <= 'z' {
		return b - 'a' + 'A'
	}
	return b
}

func decodeUserhost(m irc.Message) (command, error) {
	if len(m.Params) == 0 {
		return nil, fault(faultNotEnoughParameters, "USERHOST")
	}
	nicks := m.Params
	if len(nicks) > 5 {
		nicks = nicks[:5]
	}
	return userhostCommand{nicks: nicks}, nil
}

func decodeWhois(m irc.Message) (command, error) {
	if len(m.Params) == 0 {
		return nil, fault(faultNotEnoughParameters, "WHOIS")
	}
	if !utf8.ValidString(m.Params[0]) {
		return nil, fault(faultCannotDecodeUTF8, "WHOIS")
	}
	return whoisCommand{nick: m.Params[0]}, nil
}

func decodeWho(m irc.Message) (command, error) {
	if len(m.Params) == 0 {
		return nil, fault(faultNotEnoughParameters, "WHO")
	}
	if !utf8.ValidString(m.Params[0]) {
		return nil, fault(faultCannotDecodeUTF8, "WHO")
	}
	return whoCommand{mask: m.Params[0]}, nil
}

func decodeMotd(irc.Message) (command, error) {
	return motdCommand{}, nil
}

func decodeLusers(irc.Message) (command, error) {
	return lusersCommand{}, nil
}

func decodeAway(m irc.Message) (command, error) {
	cmd := awayCommand{}
	if len(m.Params) > 0 {
		cmd.message = m.Params[0]
	}
	return cmd, nil
}

func decodeQuit(m irc.Message) (command, error) {
	cmd := quitCommand{}
	if len(m.Params) > 0 {
		cmd.reason = m.Params[0]
	}
	return cmd, nil
}

func decodeCap(irc.Message) (command, error) {
	return capCommand{}, nil
}
