package comfy

import (
	"mediaforge/internal/domain"
)

// Models names the weight files installed on the ComfyUI host, grouped by
// family. Builders pick from here so deployments can swap checkpoints
// without touching graph code.
type Models struct {
	Checkpoint    string
	FluxUNet      string
	FluxCLIP      string
	FluxT5        string
	FluxVAE       string
	Upscaler      string
	WanUNet       string
	WanCLIP       string
	WanVAE        string
	SVDCheckpoint string
	VideoFamily   string
}

// Family defaults applied when the request leaves steps or guidance unset.
const (
	sdxlDefaultSteps = 25
	sdxlDefaultCFG   = 7.0
	fluxDefaultSteps = 20
	fluxDefaultCFG   = 3.5
	wanDefaultSteps  = 30
	wanDefaultCFG    = 6.0
	wanFrames        = 33
	wanFPS           = 16
	svdFrames        = 25
	svdFPS           = 6
	svdMotionBucket  = 127
	svdSteps         = 20
	svdCFG           = 2.5

	outputPrefix = "mediaforge"
)

func stepsOr(req domain.GenerationRequest, fallback int) int {
	if req.Steps > 0 {
		return req.Steps
	}
	return fallback
}

func cfgOr(req domain.GenerationRequest, fallback float64) float64 {
	if req.GuidanceScale > 0 {
		return req.GuidanceScale
	}
	return fallback
}

// CheckpointTextToImage builds the classic checkpoint pipeline: encode both
// prompts, sample an empty latent, decode and save.
func CheckpointTextToImage(m Models, req domain.GenerationRequest, seed int64) *Graph {
	g := NewGraph()
	ckpt := g.Add("CheckpointLoaderSimple", map[string]Input{
		"ckpt_name": Lit(m.Checkpoint),
	})
	pos := g.Add("CLIPTextEncode", map[string]Input{
		"text": Lit(req.Prompt),
		"clip": Out(ckpt, 1),
	})
	neg := g.Add("CLIPTextEncode", map[string]Input{
		"text": Lit(req.NegativePrompt),
		"clip": Out(ckpt, 1),
	})
	latent := g.Add("EmptyLatentImage", map[string]Input{
		"width":      Lit(req.Width),
		"height":     Lit(req.Height),
		"batch_size": Lit(req.BatchSize),
	})
	sampled := g.Add("KSampler", map[string]Input{
		"model":        Out(ckpt, 0),
		"positive":     Out(pos, 0),
		"negative":     Out(neg, 0),
		"latent_image": Out(latent, 0),
		"seed":         Lit(seed),
		"steps":        Lit(stepsOr(req, sdxlDefaultSteps)),
		"cfg":          Lit(cfgOr(req, sdxlDefaultCFG)),
		"sampler_name": Lit("euler"),
		"scheduler":    Lit("normal"),
		"denoise":      Lit(1.0),
	})
	decoded := g.Add("VAEDecode", map[string]Input{
		"samples": Out(sampled, 0),
		"vae":     Out(ckpt, 2),
	})
	g.Add("SaveImage", map[string]Input{
		"images":          Out(decoded, 0),
		"filename_prefix": Lit(outputPrefix),
	})
	return g
}

// FluxTextToImage builds the flow-matching pipeline with split components
// and guidance applied on the conditioning.
func FluxTextToImage(m Models, req domain.GenerationRequest, seed int64) *Graph {
	g := NewGraph()
	unet := g.Add("UNETLoader", map[string]Input{
		"unet_name":    Lit(m.FluxUNet),
		"weight_dtype": Lit("default"),
	})
	clip := g.Add("DualCLIPLoader", map[string]Input{
		"clip_name1": Lit(m.FluxCLIP),
		"clip_name2": Lit(m.FluxT5),
		"type":       Lit("flux"),
	})
	vae := g.Add("VAELoader", map[string]Input{
		"vae_name": Lit(m.FluxVAE),
	})
	pos := g.Add("CLIPTextEncode", map[string]Input{
		"text": Lit(req.Prompt),
		"clip": Out(clip, 0),
	})
	guided := g.Add("FluxGuidance", map[string]Input{
		"conditioning": Out(pos, 0),
		"guidance":     Lit(cfgOr(req, fluxDefaultCFG)),
	})
	guider := g.Add("BasicGuider", map[string]Input{
		"model":        Out(unet, 0),
		"conditioning": Out(guided, 0),
	})
	noise := g.Add("RandomNoise", map[string]Input{
		"noise_seed": Lit(seed),
	})
	sampler := g.Add("KSamplerSelect", map[string]Input{
		"sampler_name": Lit("euler"),
	})
	sigmas := g.Add("BasicScheduler", map[string]Input{
		"model":     Out(unet, 0),
		"scheduler": Lit("simple"),
		"steps":     Lit(stepsOr(req, fluxDefaultSteps)),
		"denoise":   Lit(1.0),
	})
	latent := g.Add("EmptySD3LatentImage", map[string]Input{
		"width":      Lit(req.Width),
		"height":     Lit(req.Height),
		"batch_size": Lit(req.BatchSize),
	})
	sampled := g.Add("SamplerCustomAdvanced", map[string]Input{
		"noise":        Out(noise, 0),
		"guider":       Out(guider, 0),
		"sampler":      Out(sampler, 0),
		"sigmas":       Out(sigmas, 0),
		"latent_image": Out(latent, 0),
	})
	decoded := g.Add("VAEDecode", map[string]Input{
		"samples": Out(sampled, 0),
		"vae":     Out(vae, 0),
	})
	g.Add("SaveImage", map[string]Input{
		"images":          Out(decoded, 0),
		"filename_prefix": Lit(outputPrefix),
	})
	return g
}

// ImageToImage re-noises an uploaded image instead of starting from an empty
// latent; denoise carries the request strength so low values stay close to
// the source.
func ImageToImage(m Models, req domain.GenerationRequest, seed int64, sourceName string) *Graph {
	g := NewGraph()
	ckpt := g.Add("CheckpointLoaderSimple", map[string]Input{
		"ckpt_name": Lit(m.Checkpoint),
	})
	source := g.Add("LoadImage", map[string]Input{
		"image": Lit(sourceName),
	})
	latent := g.Add("VAEEncode", map[string]Input{
		"pixels": Out(source, 0),
		"vae":    Out(ckpt, 2),
	})
	pos := g.Add("CLIPTextEncode", map[string]Input{
		"text": Lit(req.Prompt),
		"clip": Out(ckpt, 1),
	})
	neg := g.Add("CLIPTextEncode", map[string]Input{
		"text": Lit(req.NegativePrompt),
		"clip": Out(ckpt, 1),
	})
	sampled := g.Add("KSampler", map[string]Input{
		"model":        Out(ckpt, 0),
		"positive":     Out(pos, 0),
		"negative":     Out(neg, 0),
		"latent_image": Out(latent, 0),
		"seed":         Lit(seed),
		"steps":        Lit(stepsOr(req, sdxlDefaultSteps)),
		"cfg":          Lit(cfgOr(req, sdxlDefaultCFG)),
		"sampler_name": Lit("euler"),
		"scheduler":    Lit("normal"),
		"denoise":      Lit(req.Strength),
	})
	decoded := g.Add("VAEDecode", map[string]Input{
		"samples": Out(sampled, 0),
		"vae":     Out(ckpt, 2),
	})
	g.Add("SaveImage", map[string]Input{
		"images":          Out(decoded, 0),
		"filename_prefix": Lit(outputPrefix),
	})
	return g
}

// UpscaleImage runs the uploaded image through a dedicated upscale model.
// No sampling happens, so prompt and seed are irrelevant.
func UpscaleImage(m Models, sourceName string) *Graph {
	g := NewGraph()
	loader := g.Add("UpscaleModelLoader", map[string]Input{
		"model_name": Lit(m.Upscaler),
	})
	source := g.Add("LoadImage", map[string]Input{
		"image": Lit(sourceName),
	})
	upscaled := g.Add("ImageUpscaleWithModel", map[string]Input{
		"upscale_model": Out(loader, 0),
		"image":         Out(source, 0),
	})
	g.Add("SaveImage", map[string]Input{
		"images":          Out(upscaled, 0),
		"filename_prefix": Lit(outputPrefix),
	})
	return g
}

func wanComponents(g *Graph, m Models) (unet, clip, vae NodeID) {
	unet = g.Add("UNETLoader", map[string]Input{
		"unet_name":    Lit(m.WanUNet),
		"weight_dtype": Lit("default"),
	})
	clip = g.Add("CLIPLoader", map[string]Input{
		"clip_name": Lit(m.WanCLIP),
		"type":      Lit("wan"),
	})
	vae = g.Add("VAELoader", map[string]Input{
		"vae_name": Lit(m.WanVAE),
	})
	return unet, clip, vae
}

// WanTextToVideo builds the WAN video pipeline over an empty video latent.
func WanTextToVideo(m Models, req domain.GenerationRequest, seed int64) *Graph {
	g := NewGraph()
	unet, clip, vae := wanComponents(g, m)
	pos := g.Add("CLIPTextEncode", map[string]Input{
		"text": Lit(req.Prompt),
		"clip": Out(clip, 0),
	})
	neg := g.Add("CLIPTextEncode", map[string]Input{
		"text": Lit(req.NegativePrompt),
		"clip": Out(clip, 0),
	})
	latent := g.Add("EmptyHunyuanLatentVideo", map[string]Input{
		"width":      Lit(req.Width),
		"height":     Lit(req.Height),
		"length":     Lit(wanFrames),
		"batch_size": Lit(1),
	})
	sampled := g.Add("KSampler", map[string]Input{
		"model":        Out(unet, 0),
		"positive":     Out(pos, 0),
		"negative":     Out(neg, 0),
		"latent_image": Out(latent, 0),
		"seed":         Lit(seed),
		"steps":        Lit(stepsOr(req, wanDefaultSteps)),
		"cfg":          Lit(cfgOr(req, wanDefaultCFG)),
		"sampler_name": Lit("uni_pc"),
		"scheduler":    Lit("simple"),
		"denoise":      Lit(1.0),
	})
	decoded := g.Add("VAEDecode", map[string]Input{
		"samples": Out(sampled, 0),
		"vae":     Out(vae, 0),
	})
	addAnimatedSave(g, decoded, wanFPS)
	return g
}

// WanImageToVideo conditions the WAN pipeline on an uploaded start frame.
func WanImageToVideo(m Models, req domain.GenerationRequest, seed int64, sourceName string) *Graph {
	g := NewGraph()
	unet, clip, vae := wanComponents(g, m)
	pos := g.Add("CLIPTextEncode", map[string]Input{
		"text": Lit(req.Prompt),
		"clip": Out(clip, 0),
	})
	neg := g.Add("CLIPTextEncode", map[string]Input{
		"text": Lit(req.NegativePrompt),
		"clip": Out(clip, 0),
	})
	source := g.Add("LoadImage", map[string]Input{
		"image": Lit(sourceName),
	})
	conditioned := g.Add("WanImageToVideo", map[string]Input{
		"positive":    Out(pos, 0),
		"negative":    Out(neg, 0),
		"vae":         Out(vae, 0),
		"start_image": Out(source, 0),
		"width":       Lit(req.Width),
		"height":      Lit(req.Height),
		"length":      Lit(wanFrames),
		"batch_size":  Lit(1),
	})
	sampled := g.Add("KSampler", map[string]Input{
		"model":        Out(unet, 0),
		"positive":     Out(conditioned, 0),
		"negative":     Out(conditioned, 1),
		"latent_image": Out(conditioned, 2),
		"seed":         Lit(seed),
		"steps":        Lit(stepsOr(req, wanDefaultSteps)),
		"cfg":          Lit(cfgOr(req, wanDefaultCFG)),
		"sampler_name": Lit("uni_pc"),
		"scheduler":    Lit("simple"),
		"denoise":      Lit(1.0),
	})
	decoded := g.Add("VAEDecode", map[string]Input{
		"samples": Out(sampled, 0),
		"vae":     Out(vae, 0),
	})
	addAnimatedSave(g, decoded, wanFPS)
	return g
}

// SVDImageToVideo animates an uploaded frame with the SVD image-only
// checkpoint. The conditioning node produces both prompts and the latent.
func SVDImageToVideo(m Models, req domain.GenerationRequest, seed int64, sourceName string) *Graph {
	g := NewGraph()
	ckpt := g.Add("ImageOnlyCheckpointLoader", map[string]Input{
		"ckpt_name": Lit(m.SVDCheckpoint),
	})
	source := g.Add("LoadImage", map[string]Input{
		"image": Lit(sourceName),
	})
	conditioned := g.Add("SVD_img2vid_Conditioning", map[string]Input{
		"clip_vision":        Out(ckpt, 1),
		"init_image":         Out(source, 0),
		"vae":                Out(ckpt, 2),
		"width":              Lit(req.Width),
		"height":             Lit(req.Height),
		"video_frames":       Lit(svdFrames),
		"motion_bucket_id":   Lit(svdMotionBucket),
		"fps":                Lit(svdFPS),
		"augmentation_level": Lit(0.0),
	})
	guided := g.Add("VideoLinearCFGGuidance", map[string]Input{
		"model":   Out(ckpt, 0),
		"min_cfg": Lit(1.0),
	})
	sampled := g.Add("KSampler", map[string]Input{
		"model":        Out(guided, 0),
		"positive":     Out(conditioned, 0),
		"negative":     Out(conditioned, 1),
		"latent_image": Out(conditioned, 2),
		"seed":         Lit(seed),
		"steps":        Lit(stepsOr(req, svdSteps)),
		"cfg":          Lit(cfgOr(req, svdCFG)),
		"sampler_name": Lit("euler"),
		"scheduler":    Lit("karras"),
		"denoise":      Lit(1.0),
	})
	decoded := g.Add("VAEDecode", map[string]Input{
		"samples": Out(sampled, 0),
		"vae":     Out(ckpt, 2),
	})
	addAnimatedSave(g, decoded, svdFPS)
	return g
}

func addAnimatedSave(g *Graph, images NodeID, fps int) {
	g.Add("SaveAnimatedWEBP", map[string]Input{
		"images":          Out(images, 0),
		"filename_prefix": Lit(outputPrefix),
		"fps":             Lit(fps),
		"lossless":        Lit(false),
		"quality":         Lit(90),
		"method":          Lit("default"),
	})
}
