package go_oscar

import "fmt"

// Human-readable names for log output. Only the foodgroups and
// subtypes this library speaks are named; everything else renders as
// hex.

var foodgroupNames = map[uint16]string{
	FAMILY_OSERVICE: "oservice",
	FAMILY_LOCATE:   "locate",
	FAMILY_BUDDY:    "buddy",
	FAMILY_ICBM:     "icbm",
	FAMILY_CHAT_NAV: "chat-nav",
	FAMILY_CHAT:     "chat",
	FAMILY_BART:     "bart",
	FAMILY_FEEDBAG:  "feedbag",
	FAMILY_BUCP:     "bucp",
}

// foodgroupLabel names a foodgroup for metrics labels.
func foodgroupLabel(foodgroup uint16) string {
	if name, ok := foodgroupNames[foodgroup]; ok {
		return name
	}
	return fmt.Sprintf("0x%04x", foodgroup)
}

type snacKey struct {
	foodgroup uint16
	subtype   uint16
}

var snacNames = map[snacKey]string{
	{FAMILY_OSERVICE, OSERVICE_ERROR}:           "oservice.error",
	{FAMILY_OSERVICE, OSERVICE_CLIENT_ONLINE}:   "oservice.client-online",
	{FAMILY_OSERVICE, OSERVICE_HOST_ONLINE}:     "oservice.host-online",
	{FAMILY_OSERVICE, OSERVICE_SERVICE_REQUEST}: "oservice.service-request",
	{FAMILY_OSERVICE, OSERVICE_SERVICE_RESP}:    "oservice.service-response",
	{FAMILY_OSERVICE, OSERVICE_RATES_QUERY}:     "oservice.rates-query",
	{FAMILY_OSERVICE, OSERVICE_RATES_REPLY}:     "oservice.rates-reply",
	{FAMILY_OSERVICE, OSERVICE_RATES_ACK}:       "oservice.rates-ack",
	{FAMILY_OSERVICE, OSERVICE_RATE_CHANGE}:     "oservice.rate-change",
	{FAMILY_OSERVICE, OSERVICE_MIGRATE}:         "oservice.migrate",

	{FAMILY_BUCP, BUCP_LOGIN_REQUEST}:     "bucp.login-request",
	{FAMILY_BUCP, BUCP_LOGIN_RESPONSE}:    "bucp.login-response",
	{FAMILY_BUCP, BUCP_CHALLENGE_REQUEST}: "bucp.challenge-request",
	{FAMILY_BUCP, BUCP_CHALLENGE_REPLY}:   "bucp.challenge-reply",

	{FAMILY_BUDDY, BUDDY_ARRIVED}:  "buddy.arrived",
	{FAMILY_BUDDY, BUDDY_DEPARTED}: "buddy.departed",

	{FAMILY_ICBM, ICBM_ERROR}:        "icbm.error",
	{FAMILY_ICBM, ICBM_TO_HOST}:      "icbm.to-host",
	{FAMILY_ICBM, ICBM_TO_CLIENT}:    "icbm.to-client",
	{FAMILY_ICBM, ICBM_MISSED_CALLS}: "icbm.missed-calls",
	{FAMILY_ICBM, ICBM_HOST_ACK}:     "icbm.host-ack",
	{FAMILY_ICBM, ICBM_CLIENT_EVENT}: "icbm.client-event",

	{FAMILY_FEEDBAG, FEEDBAG_ERROR}:          "feedbag.error",
	{FAMILY_FEEDBAG, FEEDBAG_QUERY}:          "feedbag.query",
	{FAMILY_FEEDBAG, FEEDBAG_QUERY_IF_MOD}:   "feedbag.query-if-modified",
	{FAMILY_FEEDBAG, FEEDBAG_REPLY}:          "feedbag.reply",
	{FAMILY_FEEDBAG, FEEDBAG_USE}:            "feedbag.use",
	{FAMILY_FEEDBAG, FEEDBAG_INSERT_ITEM}:    "feedbag.insert",
	{FAMILY_FEEDBAG, FEEDBAG_UPDATE_ITEM}:    "feedbag.update",
	{FAMILY_FEEDBAG, FEEDBAG_DELETE_ITEM}:    "feedbag.delete",
	{FAMILY_FEEDBAG, FEEDBAG_STATUS}:         "feedbag.status",
	{FAMILY_FEEDBAG, FEEDBAG_REPLY_NOT_MOD}:  "feedbag.not-modified",
	{FAMILY_FEEDBAG, FEEDBAG_REQUEST_AUTH}:   "feedbag.request-auth",
	{FAMILY_FEEDBAG, FEEDBAG_AUTH_REQUESTED}: "feedbag.auth-requested",
	{FAMILY_FEEDBAG, FEEDBAG_RESPOND_AUTH}:   "feedbag.respond-auth",
	{FAMILY_FEEDBAG, FEEDBAG_AUTH_REPLY}:     "feedbag.auth-reply",

	{FAMILY_CHAT_NAV, CHAT_NAV_CREATE_ROOM}: "chat-nav.create-room",
	{FAMILY_CHAT_NAV, CHAT_NAV_INFO_REPLY}:  "chat-nav.info-reply",

	{FAMILY_CHAT, CHAT_USERS_JOINED}:  "chat.users-joined",
	{FAMILY_CHAT, CHAT_USERS_LEFT}:    "chat.users-left",
	{FAMILY_CHAT, CHAT_MSG_TO_HOST}:   "chat.message-out",
	{FAMILY_CHAT, CHAT_MSG_TO_CLIENT}: "chat.message-in",

	{FAMILY_BART, BART_UPLOAD}:         "bart.upload",
	{FAMILY_BART, BART_UPLOAD_REPLY}:   "bart.upload-reply",
	{FAMILY_BART, BART_DOWNLOAD}:       "bart.download",
	{FAMILY_BART, BART_DOWNLOAD_REPLY}: "bart.download-reply",
}

// snacName renders a (foodgroup, subtype) pair for log lines.
func snacName(foodgroup, subtype uint16) string {
	if name, ok := snacNames[snacKey{foodgroup: foodgroup, subtype: subtype}]; ok {
		return name
	}
	return fmt.Sprintf("%s/0x%04x", foodgroupLabel(foodgroup), subtype)
}
