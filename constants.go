package go_oscar

// OSCAR Protocol Constants
//
// This file contains constants defined by the OSCAR protocol as used by
// AIM and ICQ. OSCAR multiplexes several service connections (login,
// BOS, chat navigation, chat rooms, administration, alerts, buddy art)
// over independent sockets, each framed by the FLAP envelope and
// addressed by SNAC foodgroup/subtype codes.
//
// Note: This library focuses solely on the wire protocol. Higher-level
// concerns such as contact-list persistence and account configuration
// storage are intentionally NOT defined here.

// FLAP framing constants
const (
	FLAP_MARKER     uint8 = 0x2a
	FLAP_HEADER_LEN       = 6
	FLAP_MAX_DATA         = 0xffff

	FLAP_FRAME_SIGNON    uint8 = 0x01
	FLAP_FRAME_DATA      uint8 = 0x02
	FLAP_FRAME_ERROR     uint8 = 0x03
	FLAP_FRAME_SIGNOFF   uint8 = 0x04
	FLAP_FRAME_KEEPALIVE uint8 = 0x05
)

// SNAC foodgroups (service categories)
const (
	FAMILY_OSERVICE uint16 = 0x0001
	FAMILY_LOCATE   uint16 = 0x0002
	FAMILY_BUDDY    uint16 = 0x0003
	FAMILY_ICBM     uint16 = 0x0004
	FAMILY_ADVERT   uint16 = 0x0005
	FAMILY_INVITE   uint16 = 0x0006
	FAMILY_ADMIN    uint16 = 0x0007
	FAMILY_POPUP    uint16 = 0x0008
	FAMILY_PD       uint16 = 0x0009
	FAMILY_LOOKUP   uint16 = 0x000a
	FAMILY_STATS    uint16 = 0x000b
	FAMILY_CHAT_NAV uint16 = 0x000d
	FAMILY_CHAT     uint16 = 0x000e
	FAMILY_ODIR     uint16 = 0x000f
	FAMILY_BART     uint16 = 0x0010
	FAMILY_FEEDBAG  uint16 = 0x0013
	FAMILY_ICQ      uint16 = 0x0015
	FAMILY_BUCP     uint16 = 0x0017
	FAMILY_ALERT    uint16 = 0x0018
)

// OSERVICE (0x0001) subtypes used by every service connection
const (
	OSERVICE_ERROR           uint16 = 0x0001
	OSERVICE_CLIENT_ONLINE   uint16 = 0x0002
	OSERVICE_HOST_ONLINE     uint16 = 0x0003
	OSERVICE_SERVICE_REQUEST uint16 = 0x0004
	OSERVICE_SERVICE_RESP    uint16 = 0x0005
	OSERVICE_RATES_QUERY     uint16 = 0x0006
	OSERVICE_RATES_REPLY     uint16 = 0x0007
	OSERVICE_RATES_ACK       uint16 = 0x0008
	OSERVICE_RATE_CHANGE     uint16 = 0x000a
	OSERVICE_PAUSE           uint16 = 0x000b
	OSERVICE_RESUME          uint16 = 0x000d
	OSERVICE_USER_INFO_QUERY uint16 = 0x000e
	OSERVICE_USER_INFO       uint16 = 0x000f
	OSERVICE_IDLE_NOTIFY     uint16 = 0x0011
	OSERVICE_MIGRATE         uint16 = 0x0012
	OSERVICE_MOTD            uint16 = 0x0013
	OSERVICE_SET_CAPS        uint16 = 0x0017
	OSERVICE_CAPS_ACK        uint16 = 0x0018
)

// BUCP (0x0017) login subtypes
const (
	BUCP_LOGIN_REQUEST     uint16 = 0x0002
	BUCP_LOGIN_RESPONSE    uint16 = 0x0003
	BUCP_CHALLENGE_REQUEST uint16 = 0x0006
	BUCP_CHALLENGE_REPLY   uint16 = 0x0007
)

// BUDDY (0x0003) presence subtypes
const (
	BUDDY_ARRIVED  uint16 = 0x000b
	BUDDY_DEPARTED uint16 = 0x000c
)

// ICBM (0x0004) subtypes
const (
	ICBM_ERROR        uint16 = 0x0001
	ICBM_SET_PARAMS   uint16 = 0x0002
	ICBM_TO_HOST      uint16 = 0x0006
	ICBM_TO_CLIENT    uint16 = 0x0007
	ICBM_EVIL_REQUEST uint16 = 0x0008
	ICBM_MISSED_CALLS uint16 = 0x000a
	ICBM_HOST_ACK     uint16 = 0x000c
	ICBM_CLIENT_EVENT uint16 = 0x0014
)

// ICBM channels
const (
	ICBM_CHANNEL_TEXT       uint16 = 0x0001
	ICBM_CHANNEL_RENDEZVOUS uint16 = 0x0002
	ICBM_CHANNEL_EXTENDED   uint16 = 0x0004
)

// ICBM message-text charset flags (fragment encoding field)
const (
	ICBM_CHARSET_ASCII   uint16 = 0x0000
	ICBM_CHARSET_UNICODE uint16 = 0x0002 // UCS-2BE, "Unicode" on the wire
	ICBM_CHARSET_LATIN1  uint16 = 0x0003 // ISO-8859-1
)

// ICBM inbound channel-1 TLV types
const (
	ICBM_TLV_MESSAGE       uint16 = 0x0002
	ICBM_TLV_AUTO_RESPONSE uint16 = 0x0004
	ICBM_TLV_STORE_OFFLINE uint16 = 0x0006
	ICBM_TLV_ICON_INFO     uint16 = 0x0008
	ICBM_TLV_RENDEZVOUS    uint16 = 0x0005
	ICBM_TLV_REQUEST_ACK   uint16 = 0x0003
	ICBM_TLV_EXT_DATA      uint16 = 0x0005
)

// ICBM typing event codes (subtype 0x0014)
const (
	ICBM_EVENT_FINISHED uint16 = 0x0000
	ICBM_EVENT_TYPED    uint16 = 0x0001
	ICBM_EVENT_TYPING   uint16 = 0x0002
)

// FEEDBAG (0x0013) server-stored-information subtypes
const (
	FEEDBAG_ERROR          uint16 = 0x0001
	FEEDBAG_RIGHTS_QUERY   uint16 = 0x0002
	FEEDBAG_RIGHTS_REPLY   uint16 = 0x0003
	FEEDBAG_QUERY          uint16 = 0x0004
	FEEDBAG_QUERY_IF_MOD   uint16 = 0x0005
	FEEDBAG_REPLY          uint16 = 0x0006
	FEEDBAG_USE            uint16 = 0x0007
	FEEDBAG_INSERT_ITEM    uint16 = 0x0008
	FEEDBAG_UPDATE_ITEM    uint16 = 0x0009
	FEEDBAG_DELETE_ITEM    uint16 = 0x000a
	FEEDBAG_STATUS         uint16 = 0x000e
	FEEDBAG_REPLY_NOT_MOD  uint16 = 0x000f
	FEEDBAG_START_CLUSTER  uint16 = 0x0011
	FEEDBAG_END_CLUSTER    uint16 = 0x0012
	FEEDBAG_REQUEST_AUTH   uint16 = 0x0018
	FEEDBAG_AUTH_REQUESTED uint16 = 0x0019
	FEEDBAG_RESPOND_AUTH   uint16 = 0x001a
	FEEDBAG_AUTH_REPLY     uint16 = 0x001b
	FEEDBAG_ADDED_TO_LIST  uint16 = 0x001c
)

// Feedbag item classes
const (
	FEEDBAG_CLASS_BUDDY    uint16 = 0x0000
	FEEDBAG_CLASS_GROUP    uint16 = 0x0001
	FEEDBAG_CLASS_PERMIT   uint16 = 0x0002
	FEEDBAG_CLASS_DENY     uint16 = 0x0003
	FEEDBAG_CLASS_PDINFO   uint16 = 0x0004
	FEEDBAG_CLASS_PRESENCE uint16 = 0x0005
)

// Feedbag item attribute TLV types
const (
	FEEDBAG_ATTR_AWAITING_AUTH uint16 = 0x0066
	FEEDBAG_ATTR_ORDER         uint16 = 0x00c8
	FEEDBAG_ATTR_PD_MODE       uint16 = 0x00ca
	FEEDBAG_ATTR_ALIAS         uint16 = 0x0131
	FEEDBAG_ATTR_EMAIL         uint16 = 0x0137
	FEEDBAG_ATTR_COMMENT       uint16 = 0x013c
)

// Feedbag status (ack) codes, subtype 0x000e
const (
	FEEDBAG_STATUS_SUCCESS       uint16 = 0x0000
	FEEDBAG_STATUS_NOT_FOUND     uint16 = 0x0002
	FEEDBAG_STATUS_ALREADY_EXIST uint16 = 0x0003
	FEEDBAG_STATUS_DB_ERROR      uint16 = 0x000a
	FEEDBAG_STATUS_LIMIT         uint16 = 0x000c
	FEEDBAG_STATUS_NO_ICQ        uint16 = 0x000d
	FEEDBAG_STATUS_NEED_AUTH     uint16 = 0x000e
)

// CHAT_NAV (0x000d) subtypes
const (
	CHAT_NAV_ERROR        uint16 = 0x0001
	CHAT_NAV_RIGHTS_QUERY uint16 = 0x0002
	CHAT_NAV_ROOM_INFO    uint16 = 0x0004
	CHAT_NAV_CREATE_ROOM  uint16 = 0x0008
	CHAT_NAV_INFO_REPLY   uint16 = 0x0009
)

// CHAT (0x000e) subtypes
const (
	CHAT_ERROR         uint16 = 0x0001
	CHAT_ROOM_INFO     uint16 = 0x0002
	CHAT_USERS_JOINED  uint16 = 0x0003
	CHAT_USERS_LEFT    uint16 = 0x0004
	CHAT_MSG_TO_HOST   uint16 = 0x0005
	CHAT_MSG_TO_CLIENT uint16 = 0x0006
)

// BART (0x0010) buddy-art subtypes
const (
	BART_UPLOAD         uint16 = 0x0002
	BART_UPLOAD_REPLY   uint16 = 0x0003
	BART_DOWNLOAD       uint16 = 0x0004
	BART_DOWNLOAD_REPLY uint16 = 0x0005
)

// BART asset types
const (
	BART_TYPE_BUDDY_ICON uint16 = 0x0001
)

// User-info block TLV types (buddy arrived frames and ICBM sender
// blocks)
const (
	USERINFO_TLV_CLASS        uint16 = 0x0001
	USERINFO_TLV_SIGNON_TIME  uint16 = 0x0003
	USERINFO_TLV_IDLE_TIME    uint16 = 0x0004
	USERINFO_TLV_MEMBER_SINCE uint16 = 0x0005
	USERINFO_TLV_STATUS       uint16 = 0x0006
	USERINFO_TLV_CAPABILITIES uint16 = 0x000d
	USERINFO_TLV_SESSION_LEN  uint16 = 0x000f
	USERINFO_TLV_ICON         uint16 = 0x001d
)

// User class bit flags inside USERINFO_TLV_CLASS
const (
	USER_CLASS_UNCONFIRMED uint16 = 0x0001
	USER_CLASS_ADMIN       uint16 = 0x0002
	USER_CLASS_AOL         uint16 = 0x0004
	USER_CLASS_COMMERCIAL  uint16 = 0x0008
	USER_CLASS_FREE        uint16 = 0x0010
	USER_CLASS_AWAY        uint16 = 0x0020
	USER_CLASS_ICQ         uint16 = 0x0040
	USER_CLASS_WIRELESS    uint16 = 0x0080
	USER_CLASS_BOT         uint16 = 0x0400
)

// Common TLV types used during login and service handshakes
const (
	TLV_SCREEN_NAME       uint16 = 0x0001
	TLV_CLIENT_NAME       uint16 = 0x0003
	TLV_REDIRECT_HOST     uint16 = 0x0005
	TLV_LOGIN_COOKIE      uint16 = 0x0006
	TLV_ERROR_CODE        uint16 = 0x0008
	TLV_DISCONNECT_REASON uint16 = 0x0009
	TLV_SERVICE_FAMILY    uint16 = 0x000d
	TLV_CLIENT_COUNTRY    uint16 = 0x000e
	TLV_CLIENT_LANG       uint16 = 0x000f
	TLV_DISTRIBUTION      uint16 = 0x0014
	TLV_CLIENT_ID         uint16 = 0x0016
	TLV_CLIENT_MAJOR      uint16 = 0x0017
	TLV_CLIENT_MINOR      uint16 = 0x0018
	TLV_CLIENT_LESSER     uint16 = 0x0019
	TLV_CLIENT_BUILD      uint16 = 0x001a
	TLV_PASSWORD_HASH     uint16 = 0x0025
	TLV_MD5_OLDSTYLE      uint16 = 0x004c
)

// BUCP login error codes carried in TLV 0x0008 of the login response.
// Distinct codes are surfaced as distinct AuthError kinds, never
// coalesced, because the collaborator layer shows a different user
// message for each.
const (
	LOGIN_ERR_INVALID_NICKNAME  uint16 = 0x0001
	LOGIN_ERR_SERVICE_DOWN      uint16 = 0x0002
	LOGIN_ERR_INVALID_PASSWORD  uint16 = 0x0004
	LOGIN_ERR_MISMATCH_NICKNAME uint16 = 0x0005
	LOGIN_ERR_SUSPENDED         uint16 = 0x0011
	LOGIN_ERR_UNAVAILABLE       uint16 = 0x0014
	LOGIN_ERR_RATE_LIMITED      uint16 = 0x0018
	LOGIN_ERR_OLD_CLIENT        uint16 = 0x001b
	LOGIN_ERR_OLD_CLIENT_FORCE  uint16 = 0x001c
	LOGIN_ERR_RATE_LIMITED_IP   uint16 = 0x001d
)

// FLAP sign-off disconnect codes carried in TLV 0x0009
const (
	DISCONNECT_CODE_ELSEWHERE uint16 = 0x0001
	DISCONNECT_CODE_FLOODING  uint16 = 0x0004
)

// Rendezvous capabilities, 16-byte GUIDs carried in channel-2 ICBMs
// and in user-info capability blocks.
var (
	CAP_CHAT = [16]byte{
		0x74, 0x8f, 0x24, 0x20, 0x62, 0x87, 0x11, 0xd1,
		0x82, 0x22, 0x44, 0x45, 0x53, 0x54, 0x00, 0x00,
	}
	CAP_FILE_TRANSFER = [16]byte{
		0x09, 0x46, 0x13, 0x43, 0x4c, 0x7f, 0x11, 0xd1,
		0x82, 0x22, 0x44, 0x45, 0x53, 0x54, 0x00, 0x00,
	}
	CAP_DIRECT_IM = [16]byte{
		0x09, 0x46, 0x13, 0x45, 0x4c, 0x7f, 0x11, 0xd1,
		0x82, 0x22, 0x44, 0x45, 0x53, 0x54, 0x00, 0x00,
	}
	CAP_BUDDY_ICON = [16]byte{
		0x09, 0x46, 0x13, 0x46, 0x4c, 0x7f, 0x11, 0xd1,
		0x82, 0x22, 0x44, 0x45, 0x53, 0x54, 0x00, 0x00,
	}
	CAP_TYPING = [16]byte{
		0x56, 0x3f, 0xc8, 0x09, 0x0b, 0x6f, 0x41, 0xbd,
		0x9f, 0x79, 0x42, 0x26, 0x09, 0xdf, 0xa2, 0xf3,
	}
)

// Rendezvous message status codes inside the channel-2 TLV block
const (
	RENDEZVOUS_PROPOSE uint16 = 0x0000
	RENDEZVOUS_CANCEL  uint16 = 0x0001
	RENDEZVOUS_ACCEPT  uint16 = 0x0002
)

// Channel-2 rendezvous block TLV types
const (
	RV_TLV_CHANNEL       uint16 = 0x0001
	RV_TLV_PROPOSER_IP   uint16 = 0x0002
	RV_TLV_INTERNAL_IP   uint16 = 0x0003
	RV_TLV_VERIFIED_IP   uint16 = 0x0004
	RV_TLV_PORT          uint16 = 0x0005
	RV_TLV_REQUEST_NUM   uint16 = 0x000a
	RV_TLV_CANCEL_REASON uint16 = 0x000b
	RV_TLV_FILE_CHARSET  uint16 = 0x2712
	RV_TLV_FILE_INFO     uint16 = 0x2711
)

// Channel-4 extended message types (the ICQ "old-style" sub-protocol)
const (
	EXT_MSG_PLAIN      uint8 = 0x01
	EXT_MSG_CHAT_REQ   uint8 = 0x02
	EXT_MSG_FILE_REQ   uint8 = 0x03
	EXT_MSG_URL        uint8 = 0x04
	EXT_MSG_AUTH_REQ   uint8 = 0x06
	EXT_MSG_AUTH_DENY  uint8 = 0x07
	EXT_MSG_AUTH_GRANT uint8 = 0x08
	EXT_MSG_SERVER     uint8 = 0x0d
	EXT_MSG_CONTACTS   uint8 = 0x13
)

// Limits
const (
	OSCAR_MAX_MESSAGE_SIZE = 2544 // server-enforced ICBM payload ceiling
	OSCAR_MAX_SCREEN_NAME  = 97
	OSCAR_COOKIE_LEN       = 8
)
