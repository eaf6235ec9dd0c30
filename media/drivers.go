package media

// Driver registration. The camera driver compiles to a no-op on
// platforms without camera support; the microphone driver is
// cross-platform.
import (
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
)
