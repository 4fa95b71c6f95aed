package videofied

// Per-endpoint response shapes. The vendor reports success as status == 0
// with message == "OK"; everything else rides along in the Raw map.

type saltResponse struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
	Salt    string `json:"salt"`
}

type siteResponse struct {
	Status      int    `json:"status"`
	Message     string `json:"message"`
	Token       string `json:"token"`
	IDDevice    any    `json:"id_device"`
	PanelStatus int    `json:"panel_status"`
}

type registerResponse struct {
	Status   int    `json:"status"`
	Message  string `json:"message"`
	IDDevice any    `json:"id_device"`
}

type panelStatusResponse struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
	Pending int    `json:"pending"`
}

type checkStatusResponse struct {
	Status       int    `json:"status"`
	Message      string `json:"message"`
	StillPending int    `json:"still_pending"`
}

type streamResponse struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
	URI     string `json:"uri"`
}
