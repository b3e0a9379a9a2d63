package rightmove

type typeAheadResponse struct {
	TypeAheadLocations []typeAheadLocation `json:"typeAheadLocations"`
}

type typeAheadLocation struct {
	LocationIdentifier string `json:"locationIdentifier"`
	DisplayName        string `json:"displayName"`
}

type searchResponse struct {
	ResultCount string             `json:"resultCount"`
	Properties  []propertyResponse `json:"properties"`
	Pagination  paginationResponse `json:"pagination"`
}

type propertyResponse struct {
	ID               int64                 `json:"id"`
	Location         locationResponse      `json:"location"`
	Price            priceResponse         `json:"price"`
	DisplaySize      string                `json:"displaySize"`
	FirstVisibleDate string                `json:"firstVisibleDate"`
	ListingUpdate    listingUpdateResponse `json:"listingUpdate"`
	PropertySubType  string                `json:"propertySubType"`
	DisplayStatus    string                `json:"displayStatus"`
}

type locationResponse struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type priceResponse struct {
	Amount       float64 `json:"amount"`
	CurrencyCode string  `json:"currencyCode"`
	Frequency    string  `json:"frequency"`
}

type listingUpdateResponse struct {
	ListingUpdateReason string `json:"listingUpdateReason"`
	ListingUpdateDate   string `json:"listingUpdateDate"`
}

type paginationResponse struct {
	// Total is the number of pages, not the number of results.
	Total int `json:"total"`
}
