package placesearch

// nearbySearchResponse is the subset of the Nearby Search payload we read.
type nearbySearchResponse struct {
	Status       string         `json:"status"`
	ErrorMessage string         `json:"error_message"`
	Results      []searchResult `json:"results"`
}

type searchResult struct {
	PlaceID  string `json:"place_id"`
	Name     string `json:"name"`
	Vicinity string `json:"vicinity"`
	Geometry struct {
		Location *struct {
			Lat float64 `json:"lat"`
			Lng float64 `json:"lng"`
		} `json:"location"`
	} `json:"geometry"`
	Photos []photo `json:"photos"`
}

type photo struct {
	PhotoReference string `json:"photo_reference"`
}
