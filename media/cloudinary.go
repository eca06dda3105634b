package media

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
)

// Destroyer removes a stored asset. Destroying an asset that is already gone
// must succeed, so cleanup retries and replays stay harmless.
type Destroyer interface {
	Destroy(ctx context.Context, publicID string) error
}

type CloudinaryDestroyer struct {
	cld *cloudinary.Cloudinary
}

func NewCloudinaryDestroyer() (*CloudinaryDestroyer, error) {
	cld, err := cloudinary.NewFromURL(os.Getenv("CLOUDINARY_URL"))
	if err != nil {
		return nil, err
	}
	return &CloudinaryDestroyer{cld: cld}, nil
}

func (d *CloudinaryDestroyer) Destroy(ctx context.Context, publicID string) error {
	result, err := d.cld.Upload.Destroy(ctx, uploader.DestroyParams{PublicID: publicID})
	if err != nil {
		return err
	}
	// "not found" means someone (or a previous attempt) beat us to it
	if result.Result != "ok" && result.Result != "not found" {
		return fmt.Errorf("cloudinary destroy %s: %s", publicID, result.Result)
	}
	return nil
}

// MemoryDestroyer records destroyed ids for tests.
type MemoryDestroyer struct {
	mu        sync.Mutex
	Destroyed []string
	Err       error
}

func (d *MemoryDestroyer) Destroy(_ context.Context, publicID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Err != nil {
		return d.Err
	}
	d.Destroyed = append(d.Destroyed, publicID)
	return nil
}
