package anim

// FitMode selects how a source raster is scaled into a destination rectangle.
type FitMode string

const (
	FitContain FitMode = "contain"
	FitCover   FitMode = "cover"
)

// Fit describes a scaled placement centered on the destination rectangle's
// midpoint: DW/DH are the drawn dimensions, DX/DY the offset of the top-left
// corner from that midpoint.
type Fit struct {
	DW, DH float64
	DX, DY float64
}

// ObjectFit computes the drawn size and centered offset for placing a
// srcW x srcH source into a dstW x dstH rectangle. Contain letterboxes the
// source fully inside; cover scales it to fully cover the destination.
func ObjectFit(srcW, srcH, dstW, dstH float64, mode FitMode) Fit {
	srcRatio := srcW / srcH
	dstRatio := dstW / dstH

	dw := dstW
	dh := dstH

	if mode == FitContain {
		if srcRatio > dstRatio {
			dh = dstW / srcRatio
		} else {
			dw = dstH * srcRatio
		}
	} else {
		if srcRatio > dstRatio {
			dw = dstH * srcRatio
		} else {
			dh = dstW / srcRatio
		}
	}

	return Fit{DW: dw, DH: dh, DX: -dw / 2, DY: -dh / 2}
}
