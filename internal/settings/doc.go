// Package settings maintains the per-device configuration cache that backs
// the console's staged-edit workflow.
//
// Each tracked device has a baseline (the last known-good complete settings
// frame received from the device) and an overlay of staged edits that have
// not been sent yet. Edits accumulate locally in the overlay; when the
// operator sends, the Store composes baseline + overlay into one complete
// settings payload so the device never receives a partial frame. A partial
// frame would silently leave unmentioned fields at stale values on the
// device, which is why compose always produces the full configuration.
//
// # Workflow
//
//	store := settings.NewStore()
//	store.Initialize("OTSM-0114", current)
//	store.Stage("OTSM-0114", "Electrode", "Zinc")
//	store.Stage("OTSM-0114", "Mode", "Interrupt")
//	payload := store.Compose("OTSM-0114")   // full frame, aliases filtered
//	// ... deliver payload ...
//	store.Commit("OTSM-0114", sentChanges)  // fold delivered keys only
//
// # Thread Safety
//
// The Store serializes operations per device: each cache entry carries its
// own mutex, so staging on one device never contends with another. Staging
// and composing remain usable while a delivery for the same device is
// outstanding.
package settings
