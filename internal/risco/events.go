package risco

type EventType int

const (
	// EventConnected fires once the handshake and key validation succeed.
	EventConnected EventType = iota
	EventDisconnected
	// EventData carries an unsolicited panel push in Event.Data.
	EventData
	EventBadAccessCode
	EventAccessCodeFound
	EventBadCryptKey
	EventCryptKeyFound
	EventBadCRCLimit
	EventCloudConnected
	EventIncomingRemote
	EventEndIncomingRemote
)

var eventNames = map[EventType]string{
	EventConnected:         "PanelConnected",
	EventDisconnected:      "Disconnected",
	EventData:              "DataReceived",
	EventBadAccessCode:     "BadCode",
	EventAccessCodeFound:   "AccessCodeOk",
	EventBadCryptKey:       "BadCryptKey",
	EventCryptKeyFound:     "CryptKeyOk",
	EventBadCRCLimit:       "BadCRCLimit",
	EventCloudConnected:    "CloudConnected",
	EventIncomingRemote:    "IncomingRemoteConnection",
	EventEndIncomingRemote: "EndIncomingRemoteConnection",
}

func (e EventType) String() string {
	if name, ok := eventNames[e]; ok {
		return name
	}
	return "Unknown"
}

type Event struct {
	Type EventType
	Data string
}
