package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"solasola/internal/cache"
	"solasola/internal/cacheindex"
	"solasola/internal/fileutil"
	"solasola/internal/fingerprint"
	"solasola/internal/logging"
	"solasola/internal/lyrics"
	"solasola/internal/midimix"
	"solasola/internal/models"
	"solasola/internal/notation"
	"solasola/internal/profile"
	"solasola/internal/services"
	"solasola/internal/tasks"
)

const (
	lyricsDirName     = "lyrics"
	lyricsFileName    = "lyrics.srt"
	detailedChordsSRT = "detailed_sync_chords.srt"
	simpleChordsSRT   = "simple_sync_chords.srt"
	chordGridText     = "chord_grid.txt"
)

// Expected run times for tools that report no progress of their own.
const (
	notationEstimate = 5 * time.Second
	genreEstimate    = 20 * time.Second
)

func transcribeEstimate(song time.Duration) time.Duration {
	return 15*time.Second + song/4
}

func analyzeEstimate(song time.Duration) time.Duration {
	return 10*time.Second + song/3
}

// songRun carries the state of one song through the stages.
type songRun struct {
	taskID   string
	job      Job
	song     Song
	plan     Plan
	rep      reporter
	duration time.Duration
	started  time.Time
	logger   *slog.Logger

	dir      string
	resolver *cache.Resolver
	meta     *profile.Metadata
	result   *SongResult

	segments []lyrics.Segment
	stems    []string
	midi     []string
	mix      string
	scores   map[string]string
	genres   []profile.Genre
	analysis profile.Analysis
}

type songStage struct {
	name     string
	fullOnly bool
	run      func(context.Context, *songRun) error
}

func (m *Manager) songStages() []songStage {
	return []songStage{
		{name: "lyrics", run: m.stageLyrics},
		{name: "stems", fullOnly: true, run: m.stageStems},
		{name: "midi", fullOnly: true, run: m.stageMIDI},
		{name: "notation", fullOnly: true, run: m.stageNotation},
		{name: "analysis", fullOnly: true, run: m.stageAnalysis},
		{name: "finalize", run: m.stageFinalize},
	}
}

func (m *Manager) processSong(ctx context.Context, run *songRun) (*SongResult, error) {
	if err := m.prepareSong(ctx, run); err != nil {
		return nil, err
	}
	for _, stage := range m.songStages() {
		if stage.fullOnly && run.job.Mode != ModeFullAnalysis {
			continue
		}
		if err := m.opts.Tasks.CheckCancelled(ctx, run.taskID); err != nil {
			return nil, err
		}
		stageCtx := stageContext(ctx, stage.name)
		logger := logging.WithContext(stageCtx, m.logger)
		stageStart := time.Now()
		logger.Debug("stage started", logging.String(logging.FieldEventType, "stage_start"))
		if err := stage.run(stageCtx, run); err != nil {
			if !services.IsCancelled(err) {
				logging.ErrorWithContext(logger, "stage failed", "stage_failure",
					logging.Error(err),
					logging.String("error_kind", services.Kind(err)),
					logging.String(logging.FieldErrorHint, failureHint(err)),
				)
			}
			return nil, err
		}
		logger.Info("stage completed",
			logging.String(logging.FieldEventType, "stage_complete"),
			logging.Duration("stage_duration", time.Since(stageStart)),
		)
	}
	return run.result, nil
}

// prepareSong fingerprints the primary input, creates the result directory
// and its marker, and opens the cache resolver.
func (m *Manager) prepareSong(ctx context.Context, run *songRun) error {
	primary := primaryInput(run.song.Files)
	if primary == "" {
		return validationError("No input file to fingerprint")
	}
	settings := fingerprint.Settings{Mode: string(run.job.Mode)}
	if run.job.Mode == ModeFullAnalysis {
		settings.Model = run.job.Model
	}
	fp, err := fingerprint.Compute(primary, settings)
	if err != nil {
		return services.Wrap(services.ErrValidation, "workflow", "fingerprint", "Could not read "+filepath.Base(primary), err)
	}

	created := m.opts.Now()
	name := fmt.Sprintf("%s_%d_%s", created.Format("20060102_150405"), run.song.Index, fp)
	dir := fileutil.UniquePath(filepath.Join(m.opts.OutputRoot, name))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return services.Wrap(services.ErrConfiguration, "workflow", "create result dir", "Could not create the result folder", err)
	}
	run.dir = dir
	marker := cache.ResultMarker{Fingerprint: fp, TaskID: run.taskID, CreatedAt: created.UTC()}
	if err := cache.WriteResultMarker(dir, marker); err != nil {
		logging.WarnWithContext(run.logger, "result marker write failed", "result_marker_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "cache recency falls back to the directory mtime"),
		)
	}
	if m.opts.Index != nil {
		entry := cacheindex.Entry{Name: filepath.Base(dir), Fingerprint: fp, TaskID: run.taskID, CreatedAt: created.UTC()}
		if err := m.opts.Index.Record(ctx, entry); err != nil {
			logging.WarnWithContext(run.logger, "cache index record failed", "cache_index_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "cache recency falls back to the result marker"),
			)
		}
	}

	m.opts.Tasks.LogToUI(run.taskID, fmt.Sprintf("Starting analysis for '%s'", run.song.Title), "lab_profile", tasks.SeverityInfo, tasks.AudienceBoth)
	m.opts.Tasks.LogToUI(run.taskID, "Processing Mode: "+run.job.Mode.Label(run.job.Model), "tune", tasks.SeveritySuccess, tasks.AudienceBoth)
	if run.job.Mode == ModeFullAnalysis {
		m.opts.Tasks.LogToUI(run.taskID, "Processing hardware: "+deviceLabel(run.job.Device), "memory", tasks.SeverityInfo, tasks.AudienceBoth)
	}
	m.ui(run.taskID, "Results will be saved to...", fmt.Sprintf("Result folder: '%s'", filepath.Base(dir)), "folder_open", tasks.SeveritySuccess)

	run.resolver = cache.NewResolver(ctx, cache.Options{
		TaskID:           run.taskID,
		BaseOutputRoot:   m.opts.OutputRoot,
		Fingerprint:      fp,
		ResultDir:        dir,
		Index:            m.opts.Index,
		Logger:           m.opts.Logger,
		Notifier:         m.opts.Tasks,
		PreSuppliedStems: len(run.song.Files.Audio) > 1,
	})

	run.meta = profile.NewMetadata(run.taskID, m.opts.Version, run.started)
	run.result = &SongResult{Title: run.song.Title, ResultDir: dir, Fingerprint: fp}
	run.rep.update(StagePrepareFiles, 2, 100, "Preparing files...")
	run.logger.Info("song prepared",
		logging.String("result_dir", dir),
		logging.String("fingerprint", fp),
		logging.String(logging.FieldEventType, "song_prepared"),
	)
	return nil
}

// primaryInput picks the file whose content identifies the song: the first
// audio file that is not an isolated vocal, then any audio, then MIDI, then
// lyrics.
func primaryInput(files ClassifiedFiles) string {
	for _, f := range files.Audio {
		if f.Stem != "vocals" {
			return f.Path
		}
	}
	for _, group := range [][]InputFile{files.Audio, files.MIDI, files.Lyrics} {
		if len(group) > 0 {
			return group[0].Path
		}
	}
	return ""
}

func (m *Manager) stageLyrics(ctx context.Context, run *songRun) error {
	if len(run.song.Files.Lyrics) == 0 {
		if run.job.Mode == ModeFullAnalysis {
			m.ui(run.taskID, "Proceeding with music-only analysis.", "Lyrics file not found. Proceeding with music-only analysis.", "info", tasks.SeverityInfo)
		}
		return nil
	}
	run.rep.update(StagePrepareFiles, 3, 0, "Processing lyrics...")
	m.ui(run.taskID, "Processing lyrics...", "Distributing lyrics evenly across the song's duration.", "linear_scale", tasks.SeverityInfo)
	source := run.song.Files.Lyrics[0]
	lines, _, encoding, err := lyrics.ReadLines(source.Path)
	if err != nil {
		logging.WarnWithContext(run.logger, "lyrics unreadable", "lyrics_failed",
			logging.String("file", source.Name),
			logging.Error(err),
			logging.String(logging.FieldImpact, "the result has no lyrics track"),
		)
		m.opts.Tasks.LogToUI(run.taskID, "Could not process the provided lyrics file. It may be corrupt or unreadable.",
			"subtitles_off", tasks.SeverityWarning, tasks.AudienceBoth)
		return nil
	}
	run.segments = lyrics.SplitEvenly(lines, run.duration)
	run.meta.ProjectInfo.LyricsSource = "Provided lyrics file (evenly split)"
	run.meta.ProjectInfo.LyricsOnlySplit = run.job.Mode == ModeLyricsOnly
	run.result.LyricsSource = run.meta.ProjectInfo.LyricsSource
	run.logger.Info("lyrics timed",
		logging.Int("lines", len(run.segments)),
		logging.String("encoding", encoding),
		logging.Duration("duration", run.duration),
	)
	run.rep.update(StagePrepareFiles, 3, 100, "Lyrics processed.")
	return ctx.Err()
}

func (m *Manager) stageStems(ctx context.Context, run *songRun) error {
	audio := run.song.Files.Audio
	if len(audio) == 0 {
		return nil
	}
	res, err := run.resolver.Resolve(ctx, fingerprint.AssetStems)
	if err != nil {
		return err
	}
	if res.Action == cache.ActionCreateNew {
		if len(audio) > 1 {
			if err := m.copyPreSuppliedStems(ctx, run, res.Path); err != nil {
				return err
			}
		} else {
			if err := m.separate(ctx, run, audio[0], res.Path); err != nil {
				return err
			}
		}
		if _, err := run.resolver.WriteManifestForStep(fingerprint.AssetStems); err != nil {
			run.logger.Debug("stems manifest not written", logging.Error(err))
		}
	}
	stems, err := listFiles(res.Path, func(name string) bool {
		kind, ok := KindForPath(name)
		return ok && kind == KindAudio
	})
	if err != nil || len(stems) == 0 {
		return services.Wrap(services.ErrExternalTool, "stems", "collect", "Stem separation failed to produce any files.", err)
	}
	run.stems = stems
	run.result.Stems = stems
	run.rep.update(StageSeparate, run.plan.SubStages(StageSeparate), 100, "Stems ready.")
	return nil
}

func (m *Manager) separate(ctx context.Context, run *songRun, audio InputFile, dest string) error {
	if m.opts.Tools.Separator == nil {
		return services.Wrap(services.ErrConfiguration, "stems", "separate", "no stem separator configured", nil)
	}
	run.rep.update(StagePrepareModel, 1, 0, "Preparing separation model...")
	finish := m.trackSeparatorModel(run)
	if err := ctx.Err(); err != nil {
		finish(false)
		return services.Wrap(services.ErrCancelled, "stems", "prepare model", "cancelled", err)
	}
	run.rep.update(StagePrepareModel, 1, 100, "Separation model ready.")
	run.rep.update(StageSeparate, 1, 0, "Separating instruments...")
	_, err := m.opts.Tools.Separator.Separate(ctx, SeparationRequest{
		Audio:     audio.Path,
		Model:     run.job.Model,
		Device:    run.job.Device,
		OutputDir: dest,
	}, func(u SeparationUpdate) {
		run.rep.update(u.Stage, u.SubStage, u.Percent, u.Message)
	})
	finish(err == nil)
	return err
}

// copyPreSuppliedStems treats several audio files as stems that were
// already separated, naming each copy after its parsed stem.
func (m *Manager) copyPreSuppliedStems(ctx context.Context, run *songRun, dest string) error {
	audio := run.song.Files.Audio
	run.rep.update(StagePrepareModel, 1, 100, "Using supplied stems.")
	for i, f := range audio {
		if err := ctx.Err(); err != nil {
			return services.Wrap(services.ErrCancelled, "stems", "copy", "cancelled", err)
		}
		target := fileutil.UniquePath(filepath.Join(dest, partFileName(f)+strings.ToLower(filepath.Ext(f.Name))))
		if err := fileutil.CopyFile(f.Path, target); err != nil {
			return services.Wrap(services.ErrValidation, "stems", "copy", "Could not copy "+f.Name, err)
		}
		run.rep.update(StageSeparate, 1, float64(i+1)/float64(len(audio))*100, fmt.Sprintf("Copied stem %d of %d", i+1, len(audio)))
	}
	return nil
}

func (m *Manager) stageMIDI(ctx context.Context, run *songRun) error {
	res, err := run.resolver.Resolve(ctx, fingerprint.AssetMIDI)
	if err != nil {
		return err
	}
	if res.Action == cache.ActionCreateNew {
		if len(run.song.Files.MIDI) > 0 {
			err = m.copyMIDIInputs(ctx, run, res.Path)
		} else {
			err = m.transcribe(ctx, run, res.Path)
		}
		if err != nil {
			return err
		}
		m.buildMix(run, res.Path)
		if _, err := run.resolver.WriteManifestForStep(fingerprint.AssetMIDI); err != nil {
			run.logger.Debug("midi manifest not written", logging.Error(err))
		}
	}

	parts, err := listFiles(res.Path, func(name string) bool {
		return fingerprint.AssetMIDI.Matches(name) && name != midimix.FileName
	})
	if err != nil || len(parts) == 0 {
		m.ui(run.taskID, "Audio processing failed.", "MIDI files were not found in the cache or could not be generated.", "error", tasks.SeverityError)
		return services.Wrap(services.ErrExternalTool, "midi", "collect", "MIDI files were not found in the cache or could not be generated.", err)
	}
	run.midi = parts
	if mix := filepath.Join(res.Path, midimix.FileName); fileExists(mix) {
		run.mix = mix
	}
	run.result.MIDI = append(slices.Clone(parts), nonEmpty(run.mix)...)
	return nil
}

func (m *Manager) copyMIDIInputs(ctx context.Context, run *songRun, dest string) error {
	for i, f := range run.song.Files.MIDI {
		if err := ctx.Err(); err != nil {
			return services.Wrap(services.ErrCancelled, "midi", "copy", "cancelled", err)
		}
		target := fileutil.UniquePath(filepath.Join(dest, partFileName(f)+".mid"))
		if err := fileutil.CopyFile(f.Path, target); err != nil {
			return services.Wrap(services.ErrValidation, "midi", "copy", "Could not copy "+f.Name, err)
		}
		run.rep.update(StageScore, i+1, 100, fmt.Sprintf("Prepared MIDI %d of %d", i+1, len(run.song.Files.MIDI)))
	}
	return nil
}

// transcribe converts every stem to MIDI. A failing stem is reported and
// skipped; only cancellation aborts the loop.
func (m *Manager) transcribe(ctx context.Context, run *songRun, dest string) error {
	if m.opts.Tools.Transcriber == nil {
		return services.Wrap(services.ErrConfiguration, "midi", "transcribe", "no transcriber configured", nil)
	}
	for i, stem := range run.stems {
		name := strings.TrimSuffix(filepath.Base(stem), filepath.Ext(stem))
		step := fmt.Sprintf("Converting %s to MIDI...", name)
		est := run.rep.estimate(ctx, StageScore, i+1, transcribeEstimate(run.duration), step)
		err := m.opts.Tools.Transcriber.Transcribe(ctx, stem, filepath.Join(dest, name+".mid"))
		est.Stop()
		if err != nil {
			if services.IsCancelled(err) {
				return err
			}
			logging.WarnWithContext(run.logger, "stem transcription failed", "transcription_failed",
				logging.String("stem", name),
				logging.Error(err),
				logging.String(logging.FieldImpact, "the stem has no MIDI or score"),
			)
			m.warn(run.taskID, fmt.Sprintf("Could not convert %s.", name),
				fmt.Sprintf("MIDI conversion failed for '%s': %s", name, services.Details(err).Message), "warning")
			continue
		}
		run.rep.update(StageScore, i+1, 100, fmt.Sprintf("Converted %s to MIDI.", name))
	}
	return nil
}

// buildMix merges two or more parts into Mix.mid next to them.
func (m *Manager) buildMix(run *songRun, dir string) {
	parts, err := listFiles(dir, fingerprint.AssetMIDI.Matches)
	if err != nil || len(parts) < 2 {
		return
	}
	if err := midimix.Merge(parts, run.song.Title, filepath.Join(dir, midimix.FileName), run.logger); err != nil {
		logging.WarnWithContext(run.logger, "mix creation failed", "mix_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "no combined score; analysis uses the first part"),
		)
		m.warn(run.taskID, "Could not create Mix.", "Could not create a combined Mix. Skipping final MIDI analysis.", "warning")
	}
}

func (m *Manager) stageNotation(ctx context.Context, run *songRun) error {
	res, err := run.resolver.Resolve(ctx, fingerprint.AssetABC)
	if err != nil {
		return err
	}
	sub := run.plan.SubStages(StageScore)
	if res.Action == cache.ActionUseExisting {
		scores, err := notation.ReadScores(res.Path)
		if err != nil {
			logging.WarnWithContext(run.logger, "cached scores unreadable", "notation_cache_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "the result has no sheet music"),
			)
		}
		run.scores = scores
	} else {
		run.scores = m.generateScores(ctx, run, res.Path, sub)
		if err := ctx.Err(); err != nil {
			return services.Wrap(services.ErrCancelled, "notation", "generate", "cancelled", err)
		}
	}
	if len(run.scores) > 0 {
		run.result.ABC = run.scores
		run.result.ABCOrder = notation.Order(mapKeys(run.scores))
	}
	run.rep.update(StageScore, sub, 100, "Sheet music ready.")
	return nil
}

func (m *Manager) generateScores(ctx context.Context, run *songRun, dest string, sub int) map[string]string {
	if m.opts.Tools.Notation == nil {
		return nil
	}
	inputs := append(slices.Clone(run.midi), nonEmpty(run.mix)...)
	est := run.rep.estimate(ctx, StageScore, sub, notationEstimate*time.Duration(len(inputs)), "Generating sheet music...")
	scores, err := m.opts.Tools.Notation.Generate(ctx, inputs, run.song.Title)
	est.Stop()
	if err != nil || len(scores) == 0 {
		if services.IsCancelled(err) {
			return nil
		}
		detail := "no part produced a score"
		if err != nil {
			detail = services.Details(err).Message
		}
		logging.WarnWithContext(run.logger, "score generation failed", "notation_failed",
			logging.String("detail", detail),
			logging.String(logging.FieldImpact, "the result has no sheet music"),
		)
		m.ui(run.taskID, "ABC generation failed.", fmt.Sprintf("ABC score generation failed for '%s': %s", run.song.Title, detail), "error", tasks.SeverityError)
		return nil
	}
	if _, err := notation.WriteScores(dest, scores); err != nil {
		logging.WarnWithContext(run.logger, "score write failed", "notation_write_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "scores are returned but not saved"),
		)
		return scores
	}
	if _, err := run.resolver.WriteManifestForStep(fingerprint.AssetABC); err != nil {
		run.logger.Debug("abc manifest not written", logging.Error(err))
	}
	return scores
}

func (m *Manager) stageAnalysis(ctx context.Context, run *songRun) error {
	audio := analysisAudio(run.song.Files)

	run.rep.update(StageAnalyze, 1, 0, "Estimating genre...")
	if err := m.classifyGenre(ctx, run, audio); err != nil {
		return err
	}
	run.rep.update(StageAnalyze, 2, 0, "Analyzing tempo, key and chords...")
	if err := m.analyze(ctx, run, audio); err != nil {
		return err
	}
	if mix, ok := run.scores["Mix"]; ok {
		if bpm, ok := notation.Tempo(mix); ok {
			run.analysis.Tempo = fmt.Sprintf("%d BPM", bpm)
		}
	}
	if err := m.writeChords(ctx, run); err != nil {
		return err
	}
	run.rep.update(StageAnalyze, 2, 100, "Analysis complete.")
	return nil
}

func (m *Manager) classifyGenre(ctx context.Context, run *songRun, audio string) error {
	if audio == "" || m.opts.Tools.Genre == nil {
		return nil
	}
	ref, err := models.LookupRef(string(models.TypeGenre), "")
	if err == nil && m.opts.Models != nil && !m.opts.Models.Installed(ref) {
		m.warn(run.taskID, "Genre model not installed.",
			"Genre analysis model is not installed. Skipping. You can install it with 'solasola models install genre'.", "info")
		return nil
	}
	est := run.rep.estimate(ctx, StageAnalyze, 1, genreEstimate, "Estimating genre...")
	genres, err := m.opts.Tools.Genre.Classify(ctx, audio)
	est.Stop()
	if err != nil {
		if services.IsCancelled(err) {
			return err
		}
		logging.WarnWithContext(run.logger, "genre classification failed", "genre_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "genre is reported as Not Analyzed"),
		)
		m.warn(run.taskID, "Genre analysis failed.", "Genre analysis failed and was skipped. See server logs for details.", "error")
		return nil
	}
	run.genres = genres
	run.result.Genres = genres
	return nil
}

func (m *Manager) analyze(ctx context.Context, run *songRun, audio string) error {
	if m.opts.Tools.Analyzer == nil {
		return nil
	}
	req := AnalysisRequest{Audio: audio, MIDI: run.mix}
	if req.MIDI == "" && len(run.midi) > 0 {
		req.MIDI = run.midi[0]
	}
	if req.Audio == "" && req.MIDI == "" {
		return nil
	}
	est := run.rep.estimate(ctx, StageAnalyze, 2, analyzeEstimate(run.duration), "Analyzing tempo, key and chords...")
	analysis, err := m.opts.Tools.Analyzer.Analyze(ctx, req)
	est.Stop()
	if err != nil {
		if services.IsCancelled(err) {
			return err
		}
		logging.WarnWithContext(run.logger, "music analysis failed", "analysis_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "tempo, key and chords are reported as Not Analyzed"),
		)
		m.ui(run.taskID, "Music analysis failed.", fmt.Sprintf("Music analysis failed for '%s': %s", run.song.Title, services.Details(err).Message), "error", tasks.SeverityError)
		return nil
	}
	run.analysis = analysis
	return nil
}

// writeChords stores the chord charts as the chords asset, or reads them
// back from a cached copy.
func (m *Manager) writeChords(ctx context.Context, run *songRun) error {
	charts := map[string]string{
		detailedChordsSRT: run.analysis.DetailedChordsSRT,
		simpleChordsSRT:   run.analysis.SimpleChordsSRT,
		chordGridText:     run.analysis.ChordGrid,
	}
	produced := false
	for _, content := range charts {
		produced = produced || strings.TrimSpace(content) != ""
	}
	if !produced {
		return nil
	}
	res, err := run.resolver.Resolve(ctx, fingerprint.AssetChords)
	if err != nil {
		return err
	}
	out := make(map[string]string, len(charts))
	for name, content := range charts {
		path := filepath.Join(res.Path, name)
		if res.Action == cache.ActionUseExisting {
			if data, err := os.ReadFile(path); err == nil {
				out[name] = string(data)
			}
			continue
		}
		if strings.TrimSpace(content) == "" {
			continue
		}
		if err := fileutil.WriteFileAtomic(path, []byte(content), 0o644); err != nil {
			logging.WarnWithContext(run.logger, "chord chart write failed", "chords_write_failed",
				logging.String("file", name),
				logging.Error(err),
				logging.String(logging.FieldImpact, "the chart is returned but not saved"),
			)
		}
		out[name] = content
	}
	if res.Action == cache.ActionCreateNew {
		if _, err := run.resolver.WriteManifestForStep(fingerprint.AssetChords); err != nil {
			run.logger.Debug("chords manifest not written", logging.Error(err))
		}
	}
	run.result.Chords = out
	return nil
}

// analysisAudio prefers a full mix over isolated stems.
func analysisAudio(files ClassifiedFiles) string {
	for _, f := range files.Audio {
		if f.Stem == DefaultStem {
			return f.Path
		}
	}
	for _, f := range files.Audio {
		if f.Stem != "vocals" {
			return f.Path
		}
	}
	if len(files.Audio) > 0 {
		return files.Audio[0].Path
	}
	return ""
}

func (m *Manager) stageFinalize(ctx context.Context, run *songRun) error {
	run.rep.update(StageFinalize, 1, 0, "Writing lyrics...")
	if len(run.segments) > 0 {
		srt := lyrics.RenderSRT(run.segments)
		dir := filepath.Join(run.dir, lyricsDirName)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create lyrics dir: %w", err)
		}
		if err := fileutil.WriteFileAtomic(filepath.Join(dir, lyricsFileName), []byte(srt), 0o644); err != nil {
			return fmt.Errorf("write lyrics: %w", err)
		}
		run.result.LyricsSRT = srt
	}

	run.rep.update(StageFinalize, 2, 0, "Building song profile...")
	songProfile := profile.BuildSongProfile(profile.Inputs{
		Duration: run.duration,
		Genres:   run.genres,
		Analysis: run.analysis,
		Lyrics:   run.segments,
	})
	run.result.Profile = songProfile

	run.rep.update(StageFinalize, 3, 0, "Saving results...")
	meta := run.meta
	for _, f := range run.song.Files.All() {
		meta.InputInfo.OriginalFilenames = append(meta.InputInfo.OriginalFilenames, f.Name)
		meta.InputInfo.FileHashes[f.Name] = fingerprint.HashOrNA(f.Path)
	}
	meta.Settings["mode"] = run.job.Mode.Label(run.job.Model)
	meta.Settings["title"] = run.song.Title
	if run.job.Mode == ModeFullAnalysis {
		meta.Settings["separation_model"] = run.job.Model
		meta.Settings["processing_device"] = deviceLabel(run.job.Device)
		meta.Settings["keep_models_cached"] = fmt.Sprint(run.job.KeepModelsCached)
	}
	if run.duration > 0 {
		meta.ProjectInfo.SongDuration = profile.FormatDuration(run.duration)
	}
	meta.CacheProvenance = run.resolver.Provenance()
	meta.SongProfile = &songProfile
	meta.SetProcessingTime(m.opts.Now().Sub(run.started))
	infoPath, err := meta.Write(run.dir)
	if err != nil {
		return services.Wrap(services.ErrConfiguration, "finalize", "write metadata", "Could not save the result summary", err)
	}
	run.result.InfoPath = infoPath
	run.result.Provenance = meta.CacheProvenance
	run.rep.update(StageFinalize, 3, 100, "Results saved.")
	return ctx.Err()
}

func deviceLabel(device string) string {
	switch device {
	case "cuda":
		return "NVIDIA GPU (CUDA)"
	case "mps":
		return "Apple Silicon (MPS)"
	default:
		return "CPU"
	}
}

// partFileName is the base name a copied input gets inside an asset
// directory: its parsed stem, or its own name when it carries none.
func partFileName(f InputFile) string {
	if f.Stem != "" && f.Stem != DefaultStem {
		return f.Stem
	}
	return strings.TrimSuffix(f.Name, filepath.Ext(f.Name))
}

func listFiles(dir string, keep func(name string) bool) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, entry := range entries {
		if entry.Type().IsRegular() && keep(entry.Name()) {
			out = append(out, filepath.Join(dir, entry.Name()))
		}
	}
	return out, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func nonEmpty(values ...string) []string {
	var out []string
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

func mapKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
