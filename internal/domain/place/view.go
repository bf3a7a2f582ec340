// internal/domain/place/view.go

package place

// Bounds is the visible map region
type Bounds struct {
	CenterLat float64 `json:"centerLat"`
	CenterLng float64 `json:"centerLng"`
	LatSpan   float64 `json:"latSpan"`
	LngSpan   float64 `json:"lngSpan"`
}

// Contains reports whether the point lies inside the box, edges included
func (b Bounds) Contains(lat, lng float64) bool {
	halfLat := b.LatSpan / 2
	halfLng := b.LngSpan / 2
	return lat >= b.CenterLat-halfLat && lat <= b.CenterLat+halfLat &&
		lng >= b.CenterLng-halfLng && lng <= b.CenterLng+halfLng
}

// View is the aggregated, filtered list of places in insertion order
type View []Place

// RecomputeView merges both sources and applies the category filter and, if
// set, the viewport. Places reported by both sources are kept twice; there is
// no deduplication.
func RecomputeView(user, external []Place, filter Filter, viewport *Bounds) View {
	view := make(View, 0, len(user)+len(external))
	for _, list := range [][]Place{user, external} {
		for _, p := range list {
			if !filter.Matches(p.Category) {
				continue
			}
			if viewport != nil && !viewport.Contains(p.Lat, p.Lng) {
				continue
			}
			view = append(view, p)
		}
	}
	return view
}
