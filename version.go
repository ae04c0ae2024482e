package go_oscar

// Client version identity sent as TLVs in the BUCP login request.
// Servers gate features (and reject logins outright) on these values,
// so they mirror a late AIM 5.x build rather than anything invented.
const (
	OSCAR_CLIENT_NAME   = "AOL Instant Messenger, version 5.1.3036/WIN32"
	OSCAR_CLIENT_ID     = 0x0109
	OSCAR_CLIENT_MAJOR  = 5
	OSCAR_CLIENT_MINOR  = 1
	OSCAR_CLIENT_LESSER = 0
	OSCAR_CLIENT_BUILD  = 3036
)

// Library version, independent of the advertised client identity.
const OSCAR_LIB_VERSION = "0.1.0"
