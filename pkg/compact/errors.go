package compact

import "errors"

// ErrCatalogNotReady is returned when the catalog is partially
// recreated or mid-repair, mirroring purge's precondition 2.
var ErrCatalogNotReady = errors.New("compact: catalog is partially recreated or mid-repair")
