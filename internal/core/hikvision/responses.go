package hikvision

// apiMeta is the envelope status block on cloud responses. The code arrives
// as either a number or a string depending on the endpoint.
type apiMeta struct {
	Code    any    `json:"code"`
	Message string `json:"message"`
}

func (m apiMeta) code() string { return stringify(m.Code) }

type loginUser struct {
	Username string `json:"username"`
	CustomNo string `json:"customno"`
	AreaID   any    `json:"areaId"`
}

type loginResponse struct {
	Meta         apiMeta `json:"meta"`
	LoginSession struct {
		SessionID string `json:"sessionId"`
	} `json:"loginSession"`
	LoginUser loginUser `json:"loginUser"`
	LoginArea struct {
		APIDomain string `json:"apiDomain"`
	} `json:"loginArea"`
}

// DeviceInfo is one entry of the account device page list.
type DeviceInfo struct {
	DeviceSerial string `json:"deviceSerial"`
	Name         string `json:"name"`
	DeviceType   string `json:"deviceType"`
	Status       int    `json:"status"`
}

type pagelistResponse struct {
	Meta        apiMeta      `json:"meta"`
	DeviceInfos []DeviceInfo `json:"deviceInfos"`
}

// tunnelResponse wraps a tunneled ISAPI call: Data carries the raw inner
// HTTP response as text.
type tunnelResponse struct {
	Meta apiMeta `json:"meta"`
	Data string  `json:"data"`
}

type userInfoDoc struct {
	Nonce string `json:"nonce"`
	Realm string `json:"realm"`
	List  []struct {
		CloudUserManage struct {
			Salt                    string `json:"salt"`
			Salt2                   string `json:"salt2"`
			UserNameSessionAuthInfo string `json:"userNameSessionAuthInfo"`
		} `json:"CloudUserManage"`
	} `json:"List"`
}

type hostStatusDoc struct {
	AlarmHostStatus struct {
		SubSysList []struct {
			SubSys struct {
				ID     int    `json:"id"`
				Arming string `json:"arming"`
			} `json:"SubSys"`
		} `json:"SubSysList"`
	} `json:"AlarmHostStatus"`
}
